package mint

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/crypto"
	"github.com/elnosh/multimint/mint/storage"
)

// checkOutputsKeyset checks that the blinded messages are for the keyset.
// Messages without an id are signed with the keyset.
func checkOutputsKeyset(blindedMessages cashu.BlindedMessages, keysetId string) error {
	for _, msg := range blindedMessages {
		if len(msg.Id) > 0 && msg.Id != keysetId {
			return cashu.WrongMintErr
		}
	}
	return nil
}

// checkKeysetMembership checks that every proof is from the keyset.
func checkKeysetMembership(proofs cashu.Proofs, keysetId string) error {
	for _, proof := range proofs {
		if proof.Id != keysetId {
			return cashu.WrongMintErr
		}
	}
	return nil
}

func validDenomination(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}

// outputsAmount returns the sum of the blinded messages.
func outputsAmount(blindedMessages cashu.BlindedMessages) (uint64, error) {
	var total uint64
	for _, msg := range blindedMessages {
		if !validDenomination(msg.Amount) {
			return 0, cashu.InvalidBlindedMessageAmount
		}
		var overflow bool
		total, overflow = overflowAddUint64(total, msg.Amount)
		if overflow {
			return 0, cashu.AmountOverflowErr
		}
	}
	return total, nil
}

func proofsAmount(proofs cashu.Proofs) (uint64, error) {
	var total uint64
	for _, proof := range proofs {
		var overflow bool
		total, overflow = overflowAddUint64(total, proof.Amount)
		if overflow {
			return 0, cashu.AmountOverflowErr
		}
	}
	return total, nil
}

// signBlindedMessages signs every message with the key of its amount.
// It does not touch the db.
func signBlindedMessages(keyset *crypto.MintKeyset, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		k, ok := keyset.PrivateKey(msg.Amount)
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.InvalidBlindedMessage
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.InvalidBlindedMessage
		}

		C_ := crypto.SignBlindedMessage(B_, k)
		blindedSignatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
	}

	return blindedSignatures, nil
}

// verifySignature checks the proof signature against the keyset key for its amount.
func verifySignature(proof cashu.Proof, keyset *crypto.MintKeyset) bool {
	k, ok := keyset.PrivateKey(proof.Amount)
	if !ok {
		return false
	}

	Cbytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return false
	}
	C, err := secp256k1.ParsePubKey(Cbytes)
	if err != nil {
		return false
	}

	return crypto.Verify(proof.Secret, k, C)
}

// verifyProofs checks the proofs are from the keyset, not repeated, validly
// signed and neither spent nor pending. It does not spend them.
func (m *Mint) verifyProofs(keyset *crypto.MintKeyset, proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return cashu.NoProofsProvided
	}
	if err := checkKeysetMembership(proofs, keyset.Id); err != nil {
		return err
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	for _, proof := range proofs {
		if !verifySignature(proof, keyset) {
			return cashu.InvalidProofErr
		}
	}

	secrets := proofs.Secrets()
	usedProofs, err := m.db.GetProofsUsed(keyset.Id, secrets)
	if err != nil {
		return m.dbError("could not get used proofs", err)
	}
	if len(usedProofs) != 0 {
		return cashu.ProofAlreadyUsedErr
	}

	pendingProofs, err := m.db.GetPendingProofs(keyset.Id, secrets)
	if err != nil {
		return m.dbError("could not get pending proofs", err)
	}
	if len(pendingProofs) != 0 {
		return cashu.ProofPendingErr
	}

	return nil
}

// spendProofs marks all the proofs as spent or none of them.
func (m *Mint) spendProofs(proofs cashu.Proofs) error {
	err := m.db.SaveProofs(proofs)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrProofSpent):
		return cashu.ProofAlreadyUsedErr
	case errors.Is(err, storage.ErrProofPending):
		return cashu.ProofPendingErr
	default:
		return m.dbError("error invalidating proofs", err)
	}
}
