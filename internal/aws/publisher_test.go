package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	lastInput *sqs.SendMessageInput
	err       error
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSendMonitorMessage(t *testing.T) {
	mock := &mockSQS{}
	pub := NewPublisher(mock, "https://sqs.example/queue")

	err := pub.SendMonitorMessage(context.Background(), `{"deploy_hash":"d1"}`, map[string]string{
		"deploy_hash": "d1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *mock.lastInput.QueueUrl != "https://sqs.example/queue" {
		t.Fatalf("queue url mismatch: %s", *mock.lastInput.QueueUrl)
	}
	if *mock.lastInput.MessageBody != `{"deploy_hash":"d1"}` {
		t.Fatalf("body mismatch: %s", *mock.lastInput.MessageBody)
	}
	attr, ok := mock.lastInput.MessageAttributes["deploy_hash"]
	if !ok {
		t.Fatal("deploy_hash attribute missing")
	}
	if *attr.StringValue != "d1" || *attr.DataType != "String" {
		t.Fatalf("unexpected attribute: %+v", attr)
	}
}

func TestSendMonitorMessage_NoAttributes(t *testing.T) {
	mock := &mockSQS{}
	pub := NewPublisher(mock, "q")

	if err := pub.SendMonitorMessage(context.Background(), "{}", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastInput.MessageAttributes != nil {
		t.Fatal("expected no message attributes")
	}
}

func TestSendMonitorMessage_Error(t *testing.T) {
	mock := &mockSQS{err: errors.New("queue gone")}
	pub := NewPublisher(mock, "q")

	if err := pub.SendMonitorMessage(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected error")
	}
}
