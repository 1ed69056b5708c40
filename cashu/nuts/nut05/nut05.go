package nut05

import "github.com/elnosh/multimint/cashu"

type PostMeltRequest struct {
	Proofs  cashu.Proofs `json:"proofs"`
	Invoice string       `json:"invoice"`
}

type PostMeltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage,omitempty"`
}

type PostCheckFeesRequest struct {
	PaymentRequest string `json:"pr"`
}

type PostCheckFeesResponse struct {
	Fee uint64 `json:"fee"`
}
