// Package nut03 contains the split request and response.
package nut03

import "github.com/elnosh/multimint/cashu"

type PostSplitRequest struct {
	Proofs  cashu.Proofs          `json:"proofs"`
	Amount  uint64                `json:"amount"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

// PostSplitResponse holds the signatures of both partitions. Fst sums
// to the requested split amount and Snd to the remainder.
type PostSplitResponse struct {
	Fst cashu.BlindedSignatures `json:"fst"`
	Snd cashu.BlindedSignatures `json:"snd"`
}
