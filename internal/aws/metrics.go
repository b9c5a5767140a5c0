package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Recorder publishes settlement metrics to CloudWatch.
type Recorder struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewRecorder returns a Recorder bound to a metric namespace.
func NewRecorder(cw CloudWatchAPI, namespace string) *Recorder {
	if namespace == "" {
		namespace = "X402Relay"
	}
	return &Recorder{
		CloudWatch: cw,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// RecordSettlementOutcome emits a count metric dimensioned by terminal state and,
// for confirmed settlements, the execution cost in motes paid by the relay.
func (r *Recorder) RecordSettlementOutcome(ctx context.Context, chainName, state string, cost uint64) error {
	now := r.nowFunc()
	data := []cwtypes.MetricDatum{
		{
			MetricName: awsString("SettlementOutcome"),
			Timestamp:  &now,
			Value:      awsFloat(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: awsString("Chain"), Value: &chainName},
				{Name: awsString("State"), Value: &state},
			},
		},
	}
	if cost > 0 {
		data = append(data, cwtypes.MetricDatum{
			MetricName: awsString("SettlementCostMotes"),
			Timestamp:  &now,
			Value:      awsFloat(float64(cost)),
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: []cwtypes.Dimension{
				{Name: awsString("Chain"), Value: &chainName},
			},
		})
	}

	_, err := r.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.Namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func awsFloat(f float64) *float64 { return &f }
