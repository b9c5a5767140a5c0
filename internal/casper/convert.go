package casper

import (
	"fmt"
	"math"
	"math/big"
)

// MaxAmountMotes is the largest transferable amount: the token ledger stores
// balances as 64-bit mote counts, so anything wider is unrepresentable.
const MaxAmountMotes = uint64(math.MaxUint64)

var maxAmountBig = new(big.Int).SetUint64(MaxAmountMotes)

// ConversionError reports a field that cannot be represented in the ledger's
// native typed encoding. It is always a client error.
type ConversionError struct {
	Field  string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("casper: cannot convert %s: %s", e.Field, e.Reason)
}

// Params is the converted, ledger-typed parameter set for one settlement.
type Params struct {
	Payer     PublicKey
	Recipient string // settlement contract hash, hex
	Amount    uint64 // motes
	Nonce     uint64
}

// ConvertParams maps validated request fields into ledger-native values.
// Pure: identical inputs always yield identical outputs or the same
// ConversionError. Values are never coerced or truncated; anything out of
// range is rejected with the offending field named.
func ConvertParams(signerKey, amount string, nonce uint64, contractHash string) (Params, error) {
	payer, err := ParsePublicKey(signerKey)
	if err != nil {
		return Params{}, &ConversionError{Field: "signerKey", Reason: err.Error()}
	}

	motes, err := ConvertAmount(amount)
	if err != nil {
		return Params{}, err
	}

	if contractHash == "" {
		return Params{}, &ConversionError{Field: "contract", Reason: "settlement contract hash is not configured"}
	}

	return Params{
		Payer:     payer,
		Recipient: contractHash,
		Amount:    motes,
		Nonce:     nonce,
	}, nil
}

// ConvertAmount parses a decimal string into a 64-bit mote count.
func ConvertAmount(amount string) (uint64, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0, &ConversionError{Field: "amount", Reason: "not a base-10 integer"}
	}
	if v.Sign() <= 0 {
		return 0, &ConversionError{Field: "amount", Reason: "must be positive"}
	}
	if v.Cmp(maxAmountBig) > 0 {
		return 0, &ConversionError{Field: "amount", Reason: "exceeds maximum representable amount"}
	}
	return v.Uint64(), nil
}
