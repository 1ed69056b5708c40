package storage

import (
	"errors"

	"github.com/elnosh/multimint/cashu"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	// ErrProofSpent is returned when saving a set of proofs where at least
	// one of them (keyset id + secret) was already spent. Nothing is saved.
	ErrProofSpent = errors.New("proof already spent")
	// ErrProofPending is returned when at least one proof in the set is
	// reserved by an in-flight melt. Nothing is saved.
	ErrProofPending = errors.New("proof is pending")
)

// MintDB is the persistence used by all mint instances. Implementations
// must make SaveProofs, AddPendingProofs, SpendPendingProofs and
// MarkInvoiceIssued atomic with respect to concurrent callers.
type MintDB interface {
	SaveMintInstance(MintInstance) error
	GetMintInstance(id string) (MintInstance, error)
	// GetMintInstances returns the instances owned by any of the wallets,
	// or all instances if no wallet is passed.
	GetMintInstances(wallets ...string) ([]MintInstance, error)
	DeleteMintInstance(id string) error

	// SaveKeyset returns ErrAlreadyExists if the mint instance
	// already has a keyset.
	SaveKeyset(DBKeyset) error
	GetKeyset(id string) (DBKeyset, error)
	GetKeysetByMint(mintId string) (DBKeyset, error)
	GetKeysets() ([]DBKeyset, error)

	SaveInvoice(Invoice) error
	GetInvoice(paymentHash string) (Invoice, error)
	// MarkInvoiceIssued sets issued if it was not set and reports
	// whether this call did the transition.
	MarkInvoiceIssued(paymentHash string, issuedAmount uint64) (bool, error)

	SaveProofs(cashu.Proofs) error
	GetProofsUsed(keysetId string, secrets []string) ([]DBProof, error)

	AddPendingProofs(proofs cashu.Proofs, paymentHash string) error
	GetPendingProofs(keysetId string, secrets []string) ([]DBProof, error)
	RemovePendingProofs(keysetId string, secrets []string) error
	// SpendPendingProofs moves the pending proofs to the spent set.
	SpendPendingProofs(keysetId string, secrets []string) error

	SaveMelt(Melt) error
	GetBalance(mintId string) (Balance, error)

	Close() error
}

type MintInstance struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Wallet   string `json:"wallet"`
	KeysetId string `json:"keyset_id"`
}

type DBKeyset struct {
	Id                string
	MintId            string
	Unit              string
	DerivationPathIdx uint32
	CreatedAt         int64
}

type DBProof struct {
	Amount      uint64
	Id          string
	Secret      string
	C           string
	PaymentHash string
}

type Invoice struct {
	PaymentHash    string
	MintId         string
	Amount         uint64
	PaymentRequest string
	Issued         bool
	IssuedAmount   uint64
	CreatedAt      int64
}

type Melt struct {
	MintId      string
	PaymentHash string
	Amount      uint64
	FeeReserve  uint64
	InputAmount uint64
	Paid        bool
	ProofsSpent bool
	CreatedAt   int64
}

// Balance is the ecash issued against paid invoices and the
// ecash invalidated by melts for a mint instance.
type Balance struct {
	Issued   uint64 `json:"issued"`
	Redeemed uint64 `json:"redeemed"`
}
