package validation

import (
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Shape rules for the target ledger's encodings. Purely structural: no
// cryptographic or ledger-state checks happen here.
var (
	// tagged hex public key: 01 + 64 hex (ed25519) or 02 + 66 hex (secp256k1)
	casperKeyRe = regexp.MustCompile(`^(01[0-9a-fA-F]{64}|02[0-9a-fA-F]{66})$`)

	// positive decimal integer, no leading zeros, bounded digit count.
	// The ledger-width check belongs to the converter, not here.
	decimalAmountRe = regexp.MustCompile(`^[1-9][0-9]{0,38}$`)

	// 64-byte or 65-byte signature, hex encoded
	hexSignatureRe = regexp.MustCompile(`^([0-9a-fA-F]{128}|[0-9a-fA-F]{130})$`)
)

// New returns a configured validator with the relay's custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("casper_key", func(fl validatorv10.FieldLevel) bool {
		return casperKeyRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("decimal_amount", func(fl validatorv10.FieldLevel) bool {
		return decimalAmountRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("hex_signature", func(fl validatorv10.FieldLevel) bool {
		return hexSignatureRe.MatchString(fl.Field().String())
	})

	// struct-level check: signature length must agree with the key's scheme.
	v.RegisterStructValidation(settleRequestStructValidation, SettleRequest{})

	return v
}

// settleRequestStructValidation rejects signatures whose length cannot belong
// to the claimed key algorithm: ed25519 signatures are exactly 64 bytes,
// secp256k1 are 64 or 65.
func settleRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SettleRequest)
	if !casperKeyRe.MatchString(req.SignerKey) || !hexSignatureRe.MatchString(req.Signature) {
		// field-level rules already report these
		return
	}

	sigHexLen := len(req.Signature)
	if strings.HasPrefix(req.SignerKey, "01") && sigHexLen != 128 {
		sl.ReportError(req.Signature, "signature", "Signature", "signature_scheme_length", "ed25519 signature must be 64 bytes")
	}
}
