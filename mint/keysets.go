package mint

import (
	"errors"
	"fmt"
	"time"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut01"
	"github.com/elnosh/multimint/cashu/nuts/nut02"
	"github.com/elnosh/multimint/crypto"
	"github.com/elnosh/multimint/mint/storage"
)

// loadKeyset derives the keys of a keyset saved in the db
// and adds it to the in-memory keysets.
func (m *Mint) loadKeyset(dbKeyset storage.DBKeyset) (*crypto.MintKeyset, error) {
	keyset, err := crypto.GenerateKeyset(m.masterKey, dbKeyset.MintId, dbKeyset.DerivationPathIdx)
	if err != nil {
		return nil, fmt.Errorf("error generating keyset: %v", err)
	}
	// a different master key would derive a different id
	if keyset.Id != dbKeyset.Id {
		return nil, fmt.Errorf("derived keyset id '%v' does not match keyset '%v' in db", keyset.Id, dbKeyset.Id)
	}

	m.keysetsMu.Lock()
	m.keysets[keyset.Id] = keyset
	m.mintKeysets[keyset.MintId] = keyset.Id
	m.keysetsMu.Unlock()

	return keyset, nil
}

// GetOrCreateKeyset returns the keyset of the mint instance, generating
// and saving it the first time. Every instance gets its own hardened
// derivation index so no two instances share keys.
func (m *Mint) GetOrCreateKeyset(mintId string) (*crypto.MintKeyset, error) {
	m.keysetsMu.RLock()
	keysetId, ok := m.mintKeysets[mintId]
	keyset := m.keysets[keysetId]
	m.keysetsMu.RUnlock()
	if ok {
		return keyset, nil
	}

	m.newKeysetsMu.Lock()
	defer m.newKeysetsMu.Unlock()

	dbKeyset, err := m.db.GetKeysetByMint(mintId)
	if err == nil {
		return m.loadKeyset(dbKeyset)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, m.dbError("error reading keyset", err)
	}

	// keysets are never deleted so the count
	// is the next unused derivation index
	keysets, err := m.db.GetKeysets()
	if err != nil {
		return nil, m.dbError("error reading keysets", err)
	}
	derivationPathIdx := uint32(len(keysets))

	keyset, err = crypto.GenerateKeyset(m.masterKey, mintId, derivationPathIdx)
	if err != nil {
		m.logErrorf("error generating keyset for mint '%v': %v", mintId, err)
		return nil, cashu.StandardErr
	}

	dbKeyset = storage.DBKeyset{
		Id:                keyset.Id,
		MintId:            mintId,
		Unit:              cashu.Sat.String(),
		DerivationPathIdx: derivationPathIdx,
		CreatedAt:         time.Now().Unix(),
	}
	if err := m.db.SaveKeyset(dbKeyset); err != nil {
		return nil, m.dbError("error saving keyset", err)
	}

	m.keysetsMu.Lock()
	m.keysets[keyset.Id] = keyset
	m.mintKeysets[mintId] = keyset.Id
	m.keysetsMu.Unlock()

	m.logInfof("generated keyset '%v' for mint '%v' at derivation index %v", keyset.Id, mintId, derivationPathIdx)
	return keyset, nil
}

// GetKeyset returns the keyset with id or UnknownKeysetErr.
func (m *Mint) GetKeyset(id string) (*crypto.MintKeyset, error) {
	m.keysetsMu.RLock()
	keyset, ok := m.keysets[id]
	m.keysetsMu.RUnlock()
	if ok {
		return keyset, nil
	}

	dbKeyset, err := m.db.GetKeyset(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, cashu.UnknownKeysetErr
	}
	if err != nil {
		return nil, m.dbError("error reading keyset", err)
	}
	return m.loadKeyset(dbKeyset)
}

// instanceKeyset returns the mint instance with its keyset.
func (m *Mint) instanceKeyset(mintId string) (storage.MintInstance, *crypto.MintKeyset, error) {
	instance, err := m.getMintInstance(mintId)
	if err != nil {
		return storage.MintInstance{}, nil, err
	}

	keyset, err := m.GetKeyset(instance.KeysetId)
	if err != nil {
		return storage.MintInstance{}, nil, err
	}
	return instance, keyset, nil
}

// PublicKeys returns the public keys of the keyset of the mint instance.
func (m *Mint) PublicKeys(mintId string) (nut01.KeysMap, error) {
	_, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nil, err
	}
	return keyset.PublicKeys(), nil
}

func (m *Mint) Keysets(mintId string) (nut02.GetKeysetsResponse, error) {
	_, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nut02.GetKeysetsResponse{}, err
	}
	return nut02.GetKeysetsResponse{Keysets: []string{keyset.Id}}, nil
}
