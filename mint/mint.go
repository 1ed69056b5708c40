package mint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut04"
	"github.com/elnosh/multimint/crypto"
	"github.com/elnosh/multimint/mint/lightning"
	"github.com/elnosh/multimint/mint/storage"
	"github.com/elnosh/multimint/mint/storage/bolt"
	"github.com/elnosh/multimint/mint/storage/sqlite"
)

// Mint serves every mint instance in the process. Each instance has
// its own keyset and its own account on the lightning backend, and
// all of them share the db, the lightning client and the master key.
type Mint struct {
	db storage.MintDB

	masterKey *hdkeychain.ExtendedKey

	// keysets by id and the keyset id of each mint instance.
	// Keys are read-only once generated.
	keysetsMu    sync.RWMutex
	keysets      map[string]*crypto.MintKeyset
	mintKeysets  map[string]string
	newKeysetsMu sync.Mutex

	lightningClient lightning.Client
	limits          MintLimits

	invalidateOnUncertainStatus bool
	meltTimeout                 *time.Duration

	metrics *metrics
	logger  *slog.Logger
}

func LoadMint(config Config) (*Mint, error) {
	if config.MasterKey == nil {
		return nil, errors.New("master key cannot be empty")
	}
	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}

	path := config.MintPath
	if len(path) == 0 {
		path = mintPath()
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	var db storage.MintDB
	switch config.DBBackend {
	case Bolt:
		db, err = bolt.InitBolt(path)
	default:
		db, err = sqlite.InitSQLite(path)
	}
	if err != nil {
		return nil, fmt.Errorf("error setting up db: %v", err)
	}

	invalidateOnUncertainStatus := true
	if config.InvalidateOnUncertainStatus != nil {
		invalidateOnUncertainStatus = *config.InvalidateOnUncertainStatus
	}

	mint := &Mint{
		db:                          db,
		masterKey:                   config.MasterKey,
		keysets:                     make(map[string]*crypto.MintKeyset),
		mintKeysets:                 make(map[string]string),
		lightningClient:             config.LightningClient,
		limits:                      config.Limits,
		invalidateOnUncertainStatus: invalidateOnUncertainStatus,
		meltTimeout:                 config.MeltTimeout,
		metrics:                     newMetrics(),
		logger:                      logger,
	}

	dbKeysets, err := db.GetKeysets()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error reading keysets from db: %v", err)
	}
	for _, dbKeyset := range dbKeysets {
		if _, err := mint.loadKeyset(dbKeyset); err != nil {
			db.Close()
			return nil, err
		}
	}
	mint.logInfof("loaded %v keysets", len(dbKeysets))

	return mint, nil
}

// mintPath returns the mint's path
// at $HOME/.multimint/mint
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".multimint", "mint")
	}
	return filepath.Join(homedir, ".multimint", "mint")
}

func setupLogger(mintPath string, logLevel LogLevel) (*slog.Logger, error) {
	if err := os.MkdirAll(mintPath, 0700); err != nil {
		return nil, err
	}

	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
			source.Function = filepath.Base(source.Function)
		}
		return a
	}

	if logLevel == Disable {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	level := slog.LevelInfo
	if logLevel == Debug {
		level = slog.LevelDebug
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}
	logWriter := io.MultiWriter(os.Stdout, logFile)

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replacer,
	})
	return slog.New(handler), nil
}

func (m *Mint) logInfof(format string, args ...any) {
	m.logger.Info(fmt.Sprintf(format, args...))
}

func (m *Mint) logErrorf(format string, args ...any) {
	m.logger.Error(fmt.Sprintf(format, args...))
}

func (m *Mint) logDebugf(format string, args ...any) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

func (m *Mint) Shutdown() error {
	return m.db.Close()
}

// dbError logs the error and returns it as a cashu error
// that the server reports as a generic failure.
func (m *Mint) dbError(msg string, err error) error {
	m.logErrorf("%v: %v", msg, err)
	return cashu.BuildCashuError(fmt.Sprintf("%v: %v", msg, err), cashu.DBErrCode)
}

// lightningError logs the error from the backend and returns it as a cashu error.
func (m *Mint) lightningError(msg string, err error) error {
	m.logErrorf("%v: %v", msg, err)
	return cashu.BuildCashuError(fmt.Sprintf("%v: %v", msg, err), cashu.LightningBackendErrCode)
}

// RequestMint opens an invoice for amount on the lightning account
// of the mint instance. Tokens for it are issued with IssueTokens
// once the invoice is paid.
func (m *Mint) RequestMint(ctx context.Context, mintId string, amount uint64) (resp nut04.GetMintResponse, err error) {
	defer func() { m.metrics.observe("request_mint", err) }()

	if amount == 0 {
		return nut04.GetMintResponse{}, cashu.InvalidAmountErr
	}
	if m.limits.MaxMintAmount > 0 && amount > m.limits.MaxMintAmount {
		return nut04.GetMintResponse{}, cashu.MintAmountExceededErr
	}

	instance, err := m.getMintInstance(mintId)
	if err != nil {
		return nut04.GetMintResponse{}, err
	}

	invoice, err := m.openInvoice(ctx, instance, amount)
	if err != nil {
		return nut04.GetMintResponse{}, err
	}

	return nut04.GetMintResponse{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
	}, nil
}

// IssueTokens signs the blinded messages if the invoice with paymentHash
// was paid and no tokens were issued for it before. Signatures are
// returned in the same order as the blinded messages.
func (m *Mint) IssueTokens(
	ctx context.Context,
	mintId string,
	paymentHash string,
	blindedMessages cashu.BlindedMessages,
) (sigs cashu.BlindedSignatures, err error) {
	defer func() { m.metrics.observe("issue_tokens", err) }()

	instance, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nil, err
	}

	invoice, err := m.lookupInvoice(mintId, paymentHash)
	if err != nil {
		return nil, err
	}

	if len(blindedMessages) == 0 {
		return nil, cashu.EmptyOutputsErr
	}
	if err := checkOutputsKeyset(blindedMessages, keyset.Id); err != nil {
		return nil, err
	}

	totalRequested, err := outputsAmount(blindedMessages)
	if err != nil {
		return nil, err
	}
	if totalRequested > invoice.Amount {
		return nil, cashu.OutputsOverInvoiceErr
	}

	status, err := m.lightningClient.InvoiceStatus(ctx, instance.Wallet, paymentHash)
	if err != nil {
		return nil, m.lightningError("could not get invoice status", err)
	}
	if !status.Settled {
		return nil, cashu.InvoiceNotPaidErr
	}
	if invoice.Issued {
		return nil, cashu.InvoiceTokensIssuedErr
	}

	blindedSignatures, err := signBlindedMessages(keyset, blindedMessages)
	if err != nil {
		return nil, err
	}

	issued, err := m.markIssued(paymentHash, totalRequested)
	if err != nil {
		return nil, err
	}
	if !issued {
		return nil, cashu.InvoiceTokensIssuedErr
	}

	m.metrics.issued.WithLabelValues(mintId).Add(float64(totalRequested))
	m.logInfof("issued %v sats for invoice '%v' of mint '%v'", totalRequested, paymentHash, mintId)

	return blindedSignatures, nil
}

// returns the sum and true if the addition overflows
func overflowAddUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return math.MaxUint64, true
	}
	return a + b, false
}

func underflowSubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, true
	}
	return a - b, false
}
