package nut02

type GetKeysetsResponse struct {
	Keysets []string `json:"keysets"`
}
