package mint

import (
	"errors"
	"strings"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
)

// CreateMintInstance creates a mint instance owned by wallet
// and generates its keyset.
func (m *Mint) CreateMintInstance(name, wallet string) (storage.MintInstance, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return storage.MintInstance{}, cashu.EmptyMintNameErr
	}
	if len(wallet) == 0 {
		return storage.MintInstance{}, cashu.EmptyWalletErr
	}

	id, err := cashu.GenerateRandomId()
	if err != nil {
		m.logErrorf("error generating mint id: %v", err)
		return storage.MintInstance{}, cashu.StandardErr
	}

	keyset, err := m.GetOrCreateKeyset(id)
	if err != nil {
		return storage.MintInstance{}, err
	}

	instance := storage.MintInstance{
		Id:       id,
		Name:     name,
		Wallet:   wallet,
		KeysetId: keyset.Id,
	}
	if err := m.db.SaveMintInstance(instance); err != nil {
		return storage.MintInstance{}, m.dbError("error saving mint instance", err)
	}

	m.logInfof("created mint '%v' (%v) with keyset '%v'", instance.Name, instance.Id, instance.KeysetId)
	return instance, nil
}

func (m *Mint) getMintInstance(id string) (storage.MintInstance, error) {
	instance, err := m.db.GetMintInstance(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.MintInstance{}, cashu.MintNotExistErr
	}
	if err != nil {
		return storage.MintInstance{}, m.dbError("error reading mint instance", err)
	}
	return instance, nil
}

func (m *Mint) GetMintInstance(id string) (storage.MintInstance, error) {
	return m.getMintInstance(id)
}

// ListMintInstances returns the mint instances owned by any of
// the wallets or every instance if none is passed.
func (m *Mint) ListMintInstances(wallets ...string) ([]storage.MintInstance, error) {
	instances, err := m.db.GetMintInstances(wallets...)
	if err != nil {
		return nil, m.dbError("error reading mint instances", err)
	}
	return instances, nil
}

// DeleteMintInstance deletes the mint instance if it is owned by wallet.
// The keyset and spent proofs are kept.
func (m *Mint) DeleteMintInstance(id, wallet string) error {
	instance, err := m.getMintInstance(id)
	if err != nil {
		return err
	}
	if instance.Wallet != wallet {
		return cashu.NotYourMintErr
	}

	if err := m.db.DeleteMintInstance(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return cashu.MintNotExistErr
		}
		return m.dbError("error deleting mint instance", err)
	}

	m.logInfof("deleted mint '%v' (%v)", instance.Name, instance.Id)
	return nil
}

// Balance returns the ecash issued and redeemed by the mint instance.
func (m *Mint) Balance(id string) (storage.Balance, error) {
	if _, err := m.getMintInstance(id); err != nil {
		return storage.Balance{}, err
	}

	balance, err := m.db.GetBalance(id)
	if err != nil {
		return storage.Balance{}, m.dbError("error reading balance", err)
	}
	return balance, nil
}
