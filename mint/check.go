package mint

import (
	"context"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut05"
	"github.com/elnosh/multimint/cashu/nuts/nut07"
)

// CheckSpendable reports for each proof whether it can still be spent.
// Proofs reserved by an in-flight melt are reported as not spendable.
func (m *Mint) CheckSpendable(ctx context.Context, mintId string, proofs cashu.Proofs) (resp nut07.PostCheckResponse, err error) {
	defer func() { m.metrics.observe("check", err) }()

	_, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nil, err
	}
	if err := checkKeysetMembership(proofs, keyset.Id); err != nil {
		return nil, err
	}

	secrets := proofs.Secrets()
	usedProofs, err := m.db.GetProofsUsed(keyset.Id, secrets)
	if err != nil {
		return nil, m.dbError("could not get used proofs", err)
	}
	pendingProofs, err := m.db.GetPendingProofs(keyset.Id, secrets)
	if err != nil {
		return nil, m.dbError("could not get pending proofs", err)
	}

	unspendable := make(map[string]bool, len(usedProofs)+len(pendingProofs))
	for _, proof := range usedProofs {
		unspendable[proof.Secret] = true
	}
	for _, proof := range pendingProofs {
		unspendable[proof.Secret] = true
	}

	spendable := make(nut07.PostCheckResponse, len(proofs))
	for i, proof := range proofs {
		spendable[i] = !unspendable[proof.Secret]
	}
	return spendable, nil
}

// CheckFees returns the fee reserve that Melt requires to pay request.
func (m *Mint) CheckFees(ctx context.Context, mintId string, request string) (resp nut05.PostCheckFeesResponse, err error) {
	defer func() { m.metrics.observe("checkfees", err) }()

	if _, err := m.getMintInstance(mintId); err != nil {
		return nut05.PostCheckFeesResponse{}, err
	}

	quote, err := m.quoteMelt(ctx, request)
	if err != nil {
		return nut05.PostCheckFeesResponse{}, err
	}
	return nut05.PostCheckFeesResponse{Fee: quote.feeReserve}, nil
}
