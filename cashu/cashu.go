// Package cashu contains the core structs and logic
// of the Cashu protocol shared by every mint instance.
package cashu

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Unit int

const (
	Sat Unit = iota
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

// Cashu BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
//
// Id is optional for clients that predate keyset ids in outputs. When empty,
// the message is treated as targeting the keyset of the mint instance it is sent to.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id,omitempty"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

// BlindedMessages is ordered. Signatures are returned in the same
// order and clients correlate them by position.
type BlindedMessages []BlindedMessage

// Cashu BlindedSignature. See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
//
// A Proof is a bearer token: it carries no owner and whoever presents
// a valid unspent instance controls its value.
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

type Proofs []Proof

// Amount returns the total amount from
// the array of Proof
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// Secrets returns the secrets of the proofs in order.
func (proofs Proofs) Secrets() []string {
	secrets := make([]string, len(proofs))
	for i, proof := range proofs {
		secrets[i] = proof.Secret
	}
	return secrets
}

// ErrorKind groups the mint error codes into the categories
// the transport layer maps onto response statuses.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindWrongMint
	KindInvalidProof
	KindAlreadyIssued
	KindAmountExceedsInvoice
	KindAmountMismatch
	KindInsufficientAmount
	KindPaymentNotConfirmed
	KindPaymentBackend
	KindInvalidRequest
	KindForbidden
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindNotFound:
		return "not_found"
	case KindWrongMint:
		return "wrong_mint"
	case KindInvalidProof:
		return "invalid_proof"
	case KindAlreadyIssued:
		return "already_issued"
	case KindAmountExceedsInvoice:
		return "amount_exceeds_invoice"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindInsufficientAmount:
		return "insufficient_amount"
	case KindPaymentNotConfirmed:
		return "payment_not_confirmed"
	case KindPaymentBackend:
		return "payment_backend"
	case KindInvalidRequest:
		return "invalid_request"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

type CashuErrCode int

// Error represents an error to be returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Is reports whether target is the same cashu Error. Lightning backend
// errors carry the backend's message as detail so only their code is compared.
func (e Error) Is(target error) bool {
	switch t := target.(type) {
	case Error:
		return e.Code == t.Code && (e.Detail == t.Detail || e.Code == LightningBackendErrCode)
	case *Error:
		return t != nil && e.Code == t.Code && (e.Detail == t.Detail || e.Code == LightningBackendErrCode)
	}
	return false
}

// Kind returns the category for the error code.
func (e Error) Kind() ErrorKind {
	switch e.Code {
	case MintNotExistErrCode, InvoiceNotExistErrCode, UnknownKeysetErrCode:
		return KindNotFound
	case WrongMintErrCode:
		return KindWrongMint
	case InvalidProofErrCode, ProofAlreadyUsedErrCode:
		return KindInvalidProof
	case InvoiceAlreadyIssuedErrCode:
		return KindAlreadyIssued
	case OutputsOverInvoiceErrCode:
		return KindAmountExceedsInvoice
	case AmountMismatchErrCode:
		return KindAmountMismatch
	case InsufficientProofAmountErrCode:
		return KindInsufficientAmount
	case InvoiceNotPaidErrCode:
		return KindPaymentNotConfirmed
	case LightningBackendErrCode:
		return KindPaymentBackend
	case InvalidRequestErrCode, InvoiceErrCode, AmountLimitExceeded:
		return KindInvalidRequest
	case NotYourMintErrCode:
		return KindForbidden
	default:
		return KindInternal
	}
}

// ErrorKindOf returns the category of err. Errors that are not
// cashu errors are internal.
func ErrorKindOf(err error) ErrorKind {
	var cashuErr *Error
	if errors.As(err, &cashuErr) {
		return cashuErr.Kind()
	}
	var cashuErrVal Error
	if errors.As(err, &cashuErrVal) {
		return cashuErrVal.Kind()
	}
	return KindInternal
}

// Common error codes
const (
	StandardErrCode CashuErrCode = 10000
	// Only used internally to identify where the error originated
	// and log appropriately. Returned to clients as StandardErr.
	DBErrCode CashuErrCode = 1

	InvalidRequestErrCode          CashuErrCode = 10001
	InvalidProofErrCode            CashuErrCode = 10003
	ProofAlreadyUsedErrCode        CashuErrCode = 11001
	InsufficientProofAmountErrCode CashuErrCode = 11002
	AmountMismatchErrCode          CashuErrCode = 11003
	AmountLimitExceeded            CashuErrCode = 11006

	UnknownKeysetErrCode CashuErrCode = 12001
	WrongMintErrCode     CashuErrCode = 12003

	MintNotExistErrCode         CashuErrCode = 13001
	NotYourMintErrCode          CashuErrCode = 13002
	InvoiceNotExistErrCode      CashuErrCode = 20000
	InvoiceNotPaidErrCode       CashuErrCode = 20001
	InvoiceAlreadyIssuedErrCode CashuErrCode = 20002
	OutputsOverInvoiceErrCode   CashuErrCode = 20004

	InvoiceErrCode          CashuErrCode = 20009
	LightningBackendErrCode CashuErrCode = 20010
)

var (
	StandardErr                 = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                = Error{Detail: "request body cannot be empty", Code: InvalidRequestErrCode}
	InvalidAmountErr            = Error{Detail: "amount must be greater than zero", Code: InvalidRequestErrCode}
	AmountOverflowErr           = Error{Detail: "amount overflow", Code: InvalidRequestErrCode}
	EmptyOutputsErr             = Error{Detail: "no outputs provided", Code: InvalidRequestErrCode}
	InvalidBlindedMessageAmount = Error{Detail: "invalid amount in blinded message", Code: InvalidRequestErrCode}
	InvalidBlindedMessage       = Error{Detail: "invalid blinded message", Code: InvalidRequestErrCode}
	InvalidInvoiceErr           = Error{Detail: "invalid payment request", Code: InvoiceErrCode}
	MintAmountExceededErr       = Error{Detail: "max amount for minting exceeded", Code: AmountLimitExceeded}
	MeltAmountExceededErr       = Error{Detail: "max amount for melting exceeded", Code: AmountLimitExceeded}

	EmptyMintNameErr = Error{Detail: "mint name cannot be empty", Code: InvalidRequestErrCode}
	EmptyWalletErr   = Error{Detail: "wallet cannot be empty", Code: InvalidRequestErrCode}

	MintNotExistErr    = Error{Detail: "mint does not exist", Code: MintNotExistErrCode}
	NotYourMintErr     = Error{Detail: "not your mint", Code: NotYourMintErrCode}
	UnknownKeysetErr   = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InvoiceNotExistErr = Error{Detail: "mint does not know this invoice", Code: InvoiceNotExistErrCode}
	WrongMintErr       = Error{Detail: "tokens are from another mint", Code: WrongMintErrCode}

	InvoiceNotPaidErr      = Error{Detail: "invoice not paid", Code: InvoiceNotPaidErrCode}
	InvoiceTokensIssuedErr = Error{Detail: "tokens already issued for this invoice", Code: InvoiceAlreadyIssuedErrCode}
	OutputsOverInvoiceErr  = Error{
		Detail: "sum of the output amounts is greater than invoice amount",
		Code:   OutputsOverInvoiceErrCode,
	}

	ProofAlreadyUsedErr = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofPendingErr     = Error{Detail: "proof is pending", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr     = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided    = Error{Detail: "no proofs provided", Code: InvalidRequestErrCode}
	DuplicateProofs     = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}

	AmountsDoNotMatch        = Error{Detail: "amounts do not match", Code: AmountMismatchErrCode}
	SplitAmountMismatch      = Error{Detail: "outputs cannot be split at the requested amount", Code: AmountMismatchErrCode}
	InsufficientProofsAmount = Error{
		Detail: "provided proofs not enough for lightning payment",
		Code:   InsufficientProofAmountErrCode,
	}

	LightningBackendErr = Error{Detail: "lightning backend error", Code: LightningBackendErrCode}
)

// Given an amount, it returns list of amounts e.g 13 -> [1, 4, 8]
// that can be used to build blinded messages or split operations.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

// CheckDuplicateProofs reports whether the same secret appears twice.
func CheckDuplicateProofs(proofs Proofs) bool {
	secrets := make(map[string]bool, len(proofs))

	for _, proof := range proofs {
		if secrets[proof.Secret] {
			return true
		}
		secrets[proof.Secret] = true
	}

	return false
}

// GenerateRandomId returns a random hex encoded 32-byte id.
func GenerateRandomId() (string, error) {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}
