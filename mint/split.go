package mint

import (
	"context"

	"github.com/elnosh/multimint/cashu"
)

// splitIndex returns the length of the prefix of outputs that sums
// to amount or -1 if no prefix does.
func splitIndex(outputs cashu.BlindedMessages, amount uint64) int {
	var sum uint64
	for i, msg := range outputs {
		if sum == amount {
			return i
		}
		sum += msg.Amount
	}
	if sum == amount {
		return len(outputs)
	}
	return -1
}

// Split exchanges the proofs for signatures on the outputs. The first
// outputs summing to splitAmount are signed into fst and the rest into snd.
// Either every proof is spent and every output signed or nothing happens.
func (m *Mint) Split(
	ctx context.Context,
	mintId string,
	proofs cashu.Proofs,
	splitAmount uint64,
	outputs cashu.BlindedMessages,
) (fst cashu.BlindedSignatures, snd cashu.BlindedSignatures, err error) {
	defer func() { m.metrics.observe("split", err) }()

	_, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nil, nil, err
	}

	if len(outputs) == 0 {
		return nil, nil, cashu.EmptyOutputsErr
	}
	if err := checkKeysetMembership(proofs, keyset.Id); err != nil {
		return nil, nil, err
	}
	if err := checkOutputsKeyset(outputs, keyset.Id); err != nil {
		return nil, nil, err
	}

	if err := m.verifyProofs(keyset, proofs); err != nil {
		return nil, nil, err
	}

	inputsAmount, err := proofsAmount(proofs)
	if err != nil {
		return nil, nil, err
	}
	outAmount, err := outputsAmount(outputs)
	if err != nil {
		return nil, nil, err
	}

	if splitAmount > inputsAmount {
		return nil, nil, cashu.SplitAmountMismatch
	}
	if outAmount != inputsAmount {
		return nil, nil, cashu.AmountsDoNotMatch
	}
	idx := splitIndex(outputs, splitAmount)
	if idx < 0 {
		return nil, nil, cashu.SplitAmountMismatch
	}

	blindedSignatures, err := signBlindedMessages(keyset, outputs)
	if err != nil {
		return nil, nil, err
	}

	// signatures are discarded if any proof was spent concurrently
	if err := m.spendProofs(proofs); err != nil {
		return nil, nil, err
	}

	m.metrics.swapped.WithLabelValues(mintId).Add(float64(inputsAmount))
	m.logDebugf("split %v sats into %v and %v for mint '%v'", inputsAmount, splitAmount, inputsAmount-splitAmount, mintId)

	return blindedSignatures[:idx], blindedSignatures[idx:], nil
}
