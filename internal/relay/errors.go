package relay

import "net/http"

// Kind is the stable, machine-readable error classification carried on every
// failed settlement response.
type Kind string

const (
	KindValidation        Kind = "validation_failed"
	KindAuthentication    Kind = "signature_invalid"
	KindReplay            Kind = "nonce_already_used"
	KindConversion        Kind = "conversion_failed"
	KindSubmission        Kind = "submission_failed"
	KindMonitoringTimeout Kind = "monitoring_timeout"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal_error"
)

// Error is a stage failure surfaced to the HTTP boundary: which classification
// it falls under, a human-readable detail, and optional per-field specifics.
// Never carries stack traces or key material.
type Error struct {
	Kind   Kind
	Detail string
	Fields map[string]string
	Err    error // internal cause, logged but never serialized
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the classification onto the external HTTP contract.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindReplay:
		return http.StatusConflict
	case KindConversion:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindMonitoringTimeout:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
