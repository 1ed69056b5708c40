package mint

import (
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/elnosh/multimint/mint/lightning"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

type DBBackend int

const (
	SQLite DBBackend = iota
	Bolt
)

type Config struct {
	// MasterKey derives the keyset of every mint instance.
	MasterKey       *hdkeychain.ExtendedKey
	MintPath        string
	DBBackend       DBBackend
	Limits          MintLimits
	LightningClient lightning.Client
	LogLevel        LogLevel
	// InvalidateOnUncertainStatus sets whether melt proofs are spent when the
	// outcome of a dispatched payment cannot be confirmed. Defaults to true.
	InvalidateOnUncertainStatus *bool
	// MeltTimeout bounds the payment dispatch. No timeout if nil.
	MeltTimeout *time.Duration
}

// MintLimits caps the amount of a single operation. 0 means no limit.
type MintLimits struct {
	MaxMintAmount uint64
	MaxMeltAmount uint64
}
