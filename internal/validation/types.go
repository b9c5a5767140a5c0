package validation

import "strings"

// SettleRequest is the payload for POST /settle. All fields are untrusted
// until BindAndValidate has run.
type SettleRequest struct {
	SignerKey string  `json:"signerKey" validate:"required,casper_key"`     // tagged hex public key of the payer
	Amount    string  `json:"amount" validate:"required,decimal_amount"`    // decimal string, avoids float precision loss
	Nonce     *uint64 `json:"nonce" validate:"required"`                    // pointer so nonce 0 passes required
	Signature string  `json:"signature" validate:"required,hex_signature"`  // hex signature over the intent payload
}

// NonceValue returns the nonce, zero if absent. Only meaningful after
// validation has confirmed presence.
func (r *SettleRequest) NonceValue() uint64 {
	if r.Nonce == nil {
		return 0
	}
	return *r.Nonce
}

// Sanitize strips control characters and surrounding whitespace from all
// string fields before any downstream use. Defends against log/header
// injection and encoding ambiguity; runs before validation so stripped
// garbage fails the shape checks instead of slipping past them.
func (r *SettleRequest) Sanitize() {
	r.SignerKey = sanitizeField(r.SignerKey)
	r.Amount = sanitizeField(r.Amount)
	r.Signature = sanitizeField(r.Signature)
}

func sanitizeField(s string) string {
	s = strings.Map(func(ch rune) rune {
		if ch < 0x20 || ch == 0x7f {
			return -1
		}
		return ch
	}, s)
	return strings.TrimSpace(s)
}
