package casper

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ClaimPaymentEntryPoint is the settlement contract entry point every deploy
// built here invokes.
const ClaimPaymentEntryPoint = "claim_payment"

// Authorization is the conversion-complete record a deploy is built from.
// The deadline is computed server-side; it is never client-supplied.
type Authorization struct {
	Payer     PublicKey
	Recipient string // account hash receiving the transfer
	Amount    uint64 // motes
	Nonce     uint64
	Deadline  time.Time
	Signature []byte // payer's signature over the intent payload
}

// NamedArg is one runtime argument of the session call.
type NamedArg struct {
	Name   string `json:"name"`
	CLType string `json:"cl_type"`
	Parsed string `json:"parsed"`
}

// Session invokes a stored contract by hash.
type Session struct {
	Hash       string     `json:"hash"`
	EntryPoint string     `json:"entry_point"`
	Args       []NamedArg `json:"args"`
}

// Payment carries the motes the relay account pays for execution.
type Payment struct {
	Amount string `json:"amount"`
}

// DeployHeader identifies the paying account and bounds the deploy lifetime.
type DeployHeader struct {
	Account   string `json:"account"`
	Timestamp string `json:"timestamp"`
	TTL       string `json:"ttl"`
	GasPrice  uint64 `json:"gas_price"`
	BodyHash  string `json:"body_hash"`
	ChainName string `json:"chain_name"`
}

// Approval is a signature over the deploy hash.
type Approval struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Deploy is the ledger-native transaction submitted via account_put_deploy.
type Deploy struct {
	Hash      string       `json:"hash"`
	Header    DeployHeader `json:"header"`
	Payment   Payment      `json:"payment"`
	Session   Session      `json:"session"`
	Approvals []Approval   `json:"approvals"`
}

// DeployBuilder assembles and signs claim_payment deploys. Construction is
// pure; submission is a separate step so build failures never reach the
// network.
type DeployBuilder struct {
	keys           *KeyPair
	chainName      string
	contractHash   string
	recipient      string // account hash the settlement pays out to
	paymentAmount  uint64 // motes the relay pays for execution
	deadlineWindow time.Duration
	ttl            time.Duration
	nowFunc        func() time.Time
}

// NewDeployBuilder wires a builder for one settlement contract. recipient may
// be empty, in which case transfers pay out to the relay's own account.
func NewDeployBuilder(keys *KeyPair, chainName, contractHash, recipient string, paymentAmount uint64, deadlineWindow, ttl time.Duration) (*DeployBuilder, error) {
	if keys == nil {
		return nil, errors.New("casper: deploy builder needs relay keys")
	}
	if chainName == "" || contractHash == "" {
		return nil, errors.New("casper: deploy builder needs chain name and contract hash")
	}
	if recipient == "" {
		recipient = keys.PublicKey().AccountHash()
	}
	if deadlineWindow <= 0 {
		deadlineWindow = 30 * time.Minute
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DeployBuilder{
		keys:           keys,
		chainName:      chainName,
		contractHash:   contractHash,
		recipient:      recipient,
		paymentAmount:  paymentAmount,
		deadlineWindow: deadlineWindow,
		ttl:            ttl,
		nowFunc:        time.Now,
	}, nil
}

// Build produces a signed deploy invoking claim_payment with the converted
// parameters. The authorization deadline is now + the configured window.
func (b *DeployBuilder) Build(params Params, signature []byte) (*Deploy, error) {
	if len(signature) == 0 {
		return nil, errors.New("casper: refusing to build deploy without payer signature")
	}

	now := b.nowFunc().UTC()
	auth := Authorization{
		Payer:     params.Payer,
		Recipient: b.recipient,
		Amount:    params.Amount,
		Nonce:     params.Nonce,
		Deadline:  now.Add(b.deadlineWindow),
		Signature: signature,
	}

	session := Session{
		Hash:       b.contractHash,
		EntryPoint: ClaimPaymentEntryPoint,
		Args: []NamedArg{
			{Name: "user_pubkey", CLType: "PublicKey", Parsed: auth.Payer.Hex()},
			{Name: "recipient", CLType: "Key", Parsed: auth.Recipient},
			{Name: "amount", CLType: "U64", Parsed: strconv.FormatUint(auth.Amount, 10)},
			{Name: "nonce", CLType: "U64", Parsed: strconv.FormatUint(auth.Nonce, 10)},
			{Name: "deadline", CLType: "U64", Parsed: strconv.FormatUint(uint64(auth.Deadline.UnixMilli()), 10)},
			{Name: "signature", CLType: "String", Parsed: hex.EncodeToString(auth.Signature)},
		},
	}
	payment := Payment{Amount: strconv.FormatUint(b.paymentAmount, 10)}

	bodyHash := hashBody(session, payment)
	header := DeployHeader{
		Account:   b.keys.PublicKey().Hex(),
		Timestamp: now.Format(time.RFC3339Nano),
		TTL:       fmt.Sprintf("%dm", int(b.ttl.Minutes())),
		GasPrice:  1,
		BodyHash:  hex.EncodeToString(bodyHash),
		ChainName: b.chainName,
	}

	deployHash := hashHeader(header, now, b.ttl)
	approval := Approval{
		Signer:    b.keys.PublicKey().Hex(),
		Signature: "01" + hex.EncodeToString(b.keys.SignHash(deployHash)),
	}

	return &Deploy{
		Hash:      hex.EncodeToString(deployHash),
		Header:    header,
		Payment:   payment,
		Session:   session,
		Approvals: []Approval{approval},
	}, nil
}

// PaymentAmount is the bounded execution cost the relay commits per settlement.
func (b *DeployBuilder) PaymentAmount() uint64 { return b.paymentAmount }

// hashBody serializes session and payment deterministically and hashes them.
// Byte layout: length-prefixed strings, little-endian u64s, matching the
// ordering of the session args. Reproducible byte-for-byte from equal inputs.
func hashBody(session Session, payment Payment) []byte {
	h, _ := blake2b.New256(nil)
	writeString(h, session.Hash)
	writeString(h, session.EntryPoint)
	writeU32(h, uint32(len(session.Args)))
	for _, arg := range session.Args {
		writeString(h, arg.Name)
		writeString(h, arg.CLType)
		writeString(h, arg.Parsed)
	}
	writeString(h, payment.Amount)
	return h.Sum(nil)
}

func hashHeader(header DeployHeader, timestamp time.Time, ttl time.Duration) []byte {
	h, _ := blake2b.New256(nil)
	writeString(h, header.Account)
	writeU64(h, uint64(timestamp.UnixMilli()))
	writeU64(h, uint64(ttl.Milliseconds()))
	writeU64(h, header.GasPrice)
	writeString(h, header.BodyHash)
	writeString(h, header.ChainName)
	return h.Sum(nil)
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeU32(h, uint32(len(s)))
	h.Write([]byte(s))
}

func writeU32(h interface{ Write([]byte) (int, error) }, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	h.Write(buf[:])
}

func writeU64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
