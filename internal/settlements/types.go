package settlements

import "time"

// Settlement states. SUBMITTED and PENDING are live; the rest are terminal.
// TIMED_OUT means the monitor budget ran out, not that the deploy failed;
// callers are told to keep polling by deploy hash.
const (
	StateSubmitted = "SUBMITTED"
	StatePending   = "PENDING"
	StateConfirmed = "CONFIRMED"
	StateFailed    = "FAILED"
	StateTimedOut  = "TIMED_OUT"
)

// Terminal reports whether a state can no longer transition.
func Terminal(state string) bool {
	switch state {
	case StateConfirmed, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Settlement is the record kept per submitted deploy.
type Settlement struct {
	DeployHash    string    `dynamodbav:"deploy_hash" json:"deploy_hash"` // PK, ledger-assigned
	SignerKey     string    `dynamodbav:"signer_key" json:"signer_key"`
	Nonce         uint64    `dynamodbav:"nonce" json:"nonce"`
	Amount        string    `dynamodbav:"amount" json:"amount"` // decimal string as received
	State         string    `dynamodbav:"state" json:"state"`
	Cost          uint64    `dynamodbav:"cost,omitempty" json:"cost,omitempty"` // motes paid by the relay
	ResultDetail  string    `dynamodbav:"result_detail,omitempty" json:"result_detail,omitempty"`
	CorrelationID string    `dynamodbav:"correlation_id,omitempty" json:"correlation_id,omitempty"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updated_at"`
	Attempts      int       `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
}
