// Package bolt implements storage.MintDB on a single bbolt file.
// Values are cbor encoded. Every write runs in one bolt update
// transaction which bolt serializes, so multi-key writes are atomic.
package bolt

import (
	"encoding/binary"
	"path/filepath"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	mintInstancesBucket = "mint_instances"
	keysetsBucket       = "keysets"
	keysetsByMintBucket = "keysets_by_mint"
	invoicesBucket      = "invoices"
	proofsBucket        = "proofs"
	pendingProofsBucket = "pending_proofs"
	meltsBucket         = "melts"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "mint.db"), 0600, nil)
	if err != nil {
		return nil, err
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initMintBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return boltdb, nil
}

func (db *BoltDB) initMintBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			mintInstancesBucket,
			keysetsBucket,
			keysetsByMintBucket,
			invoicesBucket,
			proofsBucket,
			pendingProofsBucket,
			meltsBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

// proofKey is the spent-state key. Secrets are unique per keyset.
func proofKey(keysetId, secret string) []byte {
	return []byte(keysetId + ":" + secret)
}

func get[T any](tx *bolt.Tx, bucket string, key []byte) (T, error) {
	var value T
	v := tx.Bucket([]byte(bucket)).Get(key)
	if v == nil {
		return value, storage.ErrNotFound
	}
	if err := cbor.Unmarshal(v, &value); err != nil {
		return value, err
	}
	return value, nil
}

func put(tx *bolt.Tx, bucket string, key []byte, value any) error {
	encoded, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucket)).Put(key, encoded)
}

func (db *BoltDB) SaveMintInstance(instance storage.MintInstance) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		key := []byte(instance.Id)
		if tx.Bucket([]byte(mintInstancesBucket)).Get(key) != nil {
			return storage.ErrAlreadyExists
		}
		return put(tx, mintInstancesBucket, key, instance)
	})
}

func (db *BoltDB) GetMintInstance(id string) (storage.MintInstance, error) {
	var instance storage.MintInstance
	err := db.bolt.View(func(tx *bolt.Tx) error {
		var err error
		instance, err = get[storage.MintInstance](tx, mintInstancesBucket, []byte(id))
		return err
	})
	return instance, err
}

func (db *BoltDB) GetMintInstances(wallets ...string) ([]storage.MintInstance, error) {
	filter := make(map[string]bool, len(wallets))
	for _, wallet := range wallets {
		filter[wallet] = true
	}

	instances := []storage.MintInstance{}
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(mintInstancesBucket)).ForEach(func(k, v []byte) error {
			var instance storage.MintInstance
			if err := cbor.Unmarshal(v, &instance); err != nil {
				return err
			}
			if len(filter) == 0 || filter[instance.Wallet] {
				instances = append(instances, instance)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (db *BoltDB) DeleteMintInstance(id string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mintInstancesBucket))
		if b.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (db *BoltDB) SaveKeyset(keyset storage.DBKeyset) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		byMint := tx.Bucket([]byte(keysetsByMintBucket))
		if byMint.Get([]byte(keyset.MintId)) != nil {
			return storage.ErrAlreadyExists
		}
		if tx.Bucket([]byte(keysetsBucket)).Get([]byte(keyset.Id)) != nil {
			return storage.ErrAlreadyExists
		}

		if err := put(tx, keysetsBucket, []byte(keyset.Id), keyset); err != nil {
			return err
		}
		return byMint.Put([]byte(keyset.MintId), []byte(keyset.Id))
	})
}

func (db *BoltDB) GetKeyset(id string) (storage.DBKeyset, error) {
	var keyset storage.DBKeyset
	err := db.bolt.View(func(tx *bolt.Tx) error {
		var err error
		keyset, err = get[storage.DBKeyset](tx, keysetsBucket, []byte(id))
		return err
	})
	return keyset, err
}

func (db *BoltDB) GetKeysetByMint(mintId string) (storage.DBKeyset, error) {
	var keyset storage.DBKeyset
	err := db.bolt.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(keysetsByMintBucket)).Get([]byte(mintId))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		keyset, err = get[storage.DBKeyset](tx, keysetsBucket, id)
		return err
	})
	return keyset, err
}

func (db *BoltDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysetsBucket)).ForEach(func(k, v []byte) error {
			var keyset storage.DBKeyset
			if err := cbor.Unmarshal(v, &keyset); err != nil {
				return err
			}
			keysets = append(keysets, keyset)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keysets, nil
}

func (db *BoltDB) SaveInvoice(invoice storage.Invoice) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		key := []byte(invoice.PaymentHash)
		if tx.Bucket([]byte(invoicesBucket)).Get(key) != nil {
			return storage.ErrAlreadyExists
		}
		return put(tx, invoicesBucket, key, invoice)
	})
}

func (db *BoltDB) GetInvoice(paymentHash string) (storage.Invoice, error) {
	var invoice storage.Invoice
	err := db.bolt.View(func(tx *bolt.Tx) error {
		var err error
		invoice, err = get[storage.Invoice](tx, invoicesBucket, []byte(paymentHash))
		return err
	})
	return invoice, err
}

func (db *BoltDB) MarkInvoiceIssued(paymentHash string, issuedAmount uint64) (bool, error) {
	marked := false
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		key := []byte(paymentHash)
		invoice, err := get[storage.Invoice](tx, invoicesBucket, key)
		if err != nil {
			return err
		}
		if invoice.Issued {
			return nil
		}

		invoice.Issued = true
		invoice.IssuedAmount = issuedAmount
		if err := put(tx, invoicesBucket, key, invoice); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		spent := tx.Bucket([]byte(proofsBucket))
		pending := tx.Bucket([]byte(pendingProofsBucket))

		for _, proof := range proofs {
			key := proofKey(proof.Id, proof.Secret)
			if pending.Get(key) != nil {
				return storage.ErrProofPending
			}
			if spent.Get(key) != nil {
				return storage.ErrProofSpent
			}

			dbProof := storage.DBProof{
				Amount: proof.Amount,
				Id:     proof.Id,
				Secret: proof.Secret,
				C:      proof.C,
			}
			if err := put(tx, proofsBucket, key, dbProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) getProofs(bucket, keysetId string, secrets []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	err := db.bolt.View(func(tx *bolt.Tx) error {
		for _, secret := range secrets {
			proof, err := get[storage.DBProof](tx, bucket, proofKey(keysetId, secret))
			if err == storage.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			proofs = append(proofs, proof)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

func (db *BoltDB) GetProofsUsed(keysetId string, secrets []string) ([]storage.DBProof, error) {
	return db.getProofs(proofsBucket, keysetId, secrets)
}

func (db *BoltDB) AddPendingProofs(proofs cashu.Proofs, paymentHash string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		spent := tx.Bucket([]byte(proofsBucket))
		pending := tx.Bucket([]byte(pendingProofsBucket))

		for _, proof := range proofs {
			key := proofKey(proof.Id, proof.Secret)
			if spent.Get(key) != nil {
				return storage.ErrProofSpent
			}
			if pending.Get(key) != nil {
				return storage.ErrProofPending
			}

			dbProof := storage.DBProof{
				Amount:      proof.Amount,
				Id:          proof.Id,
				Secret:      proof.Secret,
				C:           proof.C,
				PaymentHash: paymentHash,
			}
			if err := put(tx, pendingProofsBucket, key, dbProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetPendingProofs(keysetId string, secrets []string) ([]storage.DBProof, error) {
	return db.getProofs(pendingProofsBucket, keysetId, secrets)
}

func (db *BoltDB) RemovePendingProofs(keysetId string, secrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket([]byte(pendingProofsBucket))
		for _, secret := range secrets {
			if err := pending.Delete(proofKey(keysetId, secret)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SpendPendingProofs(keysetId string, secrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		spent := tx.Bucket([]byte(proofsBucket))
		pending := tx.Bucket([]byte(pendingProofsBucket))

		for _, secret := range secrets {
			key := proofKey(keysetId, secret)
			proof, err := get[storage.DBProof](tx, pendingProofsBucket, key)
			if err != nil {
				return err
			}
			if spent.Get(key) != nil {
				return storage.ErrProofSpent
			}

			proof.PaymentHash = ""
			if err := put(tx, proofsBucket, key, proof); err != nil {
				return err
			}
			if err := pending.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SaveMelt(melt storage.Melt) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		melts := tx.Bucket([]byte(meltsBucket))
		seq, err := melts.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return put(tx, meltsBucket, key, melt)
	})
}

func (db *BoltDB) GetBalance(mintId string) (storage.Balance, error) {
	var balance storage.Balance
	err := db.bolt.View(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(invoicesBucket)).ForEach(func(k, v []byte) error {
			var invoice storage.Invoice
			if err := cbor.Unmarshal(v, &invoice); err != nil {
				return err
			}
			if invoice.MintId == mintId && invoice.Issued {
				balance.Issued += invoice.IssuedAmount
			}
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket([]byte(meltsBucket)).ForEach(func(k, v []byte) error {
			var melt storage.Melt
			if err := cbor.Unmarshal(v, &melt); err != nil {
				return err
			}
			if melt.MintId == mintId && melt.ProofsSpent {
				balance.Redeemed += melt.InputAmount
			}
			return nil
		})
	})
	if err != nil {
		return storage.Balance{}, err
	}
	return balance, nil
}
