// Package payment reconstructs the client-signed payment intent payload and
// verifies the signature against the claimed signer key. This is the relay's
// only authentication mechanism: there is no session or token layer on top.
package payment

import "fmt"

// IntentPayload builds the canonical string the wallet signs:
//
//	x402:<chainName>:<contractHash>:<amount>:<nonce>
//
// Every field the wallet saw in the 402 payment terms appears here verbatim;
// the amount keeps its decimal-string form so no numeric reformatting can
// diverge between wallet and relay. This is the single construction point;
// callers must never assemble the payload inline.
func IntentPayload(chainName, contractHash, amount string, nonce uint64) string {
	return fmt.Sprintf("x402:%s:%s:%s:%d", chainName, contractHash, amount, nonce)
}
