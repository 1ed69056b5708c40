package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut01"
)

const MaxOrder = 64

// MintKeyset is the set of signing keys of one mint instance,
// one key pair per power of two denomination.
type MintKeyset struct {
	Id                string
	MintId            string
	Unit              string
	DerivationPathIdx uint32
	Keys              map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// GenerateKeyset derives the keyset for a mint instance from the master key.
// Keys are derived at m/0'/derivationPathIdx'/i' where 2^i is the amount,
// so the same master and index always produce the same keyset.
func GenerateKeyset(master *hdkeychain.ExtendedKey, mintId string, derivationPathIdx uint32) (*MintKeyset, error) {
	keys := make(map[uint64]KeyPair, MaxOrder)

	purposePath, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	keysetPath, err := purposePath.Derive(hdkeychain.HardenedKeyStart + derivationPathIdx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << i
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, err
		}

		privKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("could not derive key for amount %v: %v", amount, err)
		}
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: privKey.PubKey()}
	}

	keyset := &MintKeyset{
		MintId:            mintId,
		Unit:              cashu.Sat.String(),
		DerivationPathIdx: derivationPathIdx,
		Keys:              keys,
	}
	keyset.Id = DeriveKeysetId(keyset.PublicKeys())

	return keyset, nil
}

// DeriveKeysetId returns "00" followed by the first 14 hex characters of
// the sha256 of the concatenated public keys sorted by amount.
func DeriveKeysetId(keys nut01.KeysMap) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	slices.Sort(amounts)

	pubkeys := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		pubkey, err := hex.DecodeString(keys[amount])
		if err != nil {
			continue
		}
		pubkeys = append(pubkeys, pubkey...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys returns the map of amount to hex encoded compressed public key.
func (ks *MintKeyset) PublicKeys() nut01.KeysMap {
	pubKeys := make(nut01.KeysMap, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubKeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubKeys
}

// PrivateKey returns the signing key for the amount.
func (ks *MintKeyset) PrivateKey(amount uint64) (*secp256k1.PrivateKey, bool) {
	key, ok := ks.Keys[amount]
	if !ok {
		return nil, false
	}
	return key.PrivateKey, true
}
