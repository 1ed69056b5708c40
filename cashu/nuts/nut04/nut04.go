package nut04

import "github.com/elnosh/multimint/cashu"

type GetMintResponse struct {
	PaymentRequest string `json:"pr"`
	PaymentHash    string `json:"hash"`
}

type PostMintRequest struct {
	Outputs cashu.BlindedMessages `json:"blinded_messages"`
}
