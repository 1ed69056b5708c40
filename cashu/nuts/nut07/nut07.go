package nut07

import "github.com/elnosh/multimint/cashu"

type PostCheckRequest struct {
	Proofs cashu.Proofs `json:"proofs"`
}

// PostCheckResponse maps the index of each proof in the
// request to whether it can still be spent.
type PostCheckResponse map[int]bool
