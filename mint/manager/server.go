// Package manager is the admin server to create, list and delete
// mint instances and to see how much ecash each of them has out.
// It should only be reachable by the operator of the mint.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint"
	"github.com/elnosh/multimint/mint/storage"
	"github.com/gorilla/mux"
)

type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
}

func SetupServer(mint *mint.Mint, addr string) *Server {
	if len(addr) == 0 {
		addr = "127.0.0.1:8080"
	}

	server := &Server{mint: mint}
	server.httpServer = &http.Server{
		Addr:    addr,
		Handler: server.router(),
	}
	return server
}

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		return err
	}
	return nil
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/mints", s.createMint).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/mints", s.listMints).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/mints/{mint_id}", s.getMint).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/mints/{mint_id}", s.deleteMint).Methods(http.MethodDelete, http.MethodOptions)
	r.HandleFunc("/mints/{mint_id}/balance", s.getBalance).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/totalbalance", s.getTotalBalance).Methods(http.MethodGet, http.MethodOptions)

	r.Use(setupHeaders)
	return r
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

func writeErr(rw http.ResponseWriter, err error) {
	var cashuErr *cashu.Error
	var cashuErrVal cashu.Error
	switch {
	case errors.As(err, &cashuErr):
	case errors.As(err, &cashuErrVal):
		cashuErr = &cashuErrVal
	default:
		cashuErr = &cashu.StandardErr
	}
	if cashuErr.Code == cashu.DBErrCode {
		cashuErr = &cashu.StandardErr
	}

	switch cashuErr.Kind() {
	case cashu.KindNotFound:
		rw.WriteHeader(http.StatusNotFound)
	case cashu.KindForbidden:
		rw.WriteHeader(http.StatusForbidden)
	case cashu.KindInternal:
		rw.WriteHeader(http.StatusInternalServerError)
	default:
		rw.WriteHeader(http.StatusBadRequest)
	}

	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func writeResponse(rw http.ResponseWriter, response any) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		writeErr(rw, err)
		return
	}
	rw.Write(jsonRes)
}

type CreateMintRequest struct {
	Name   string `json:"name"`
	Wallet string `json:"wallet"`
}

func (s *Server) createMint(rw http.ResponseWriter, req *http.Request) {
	var createReq CreateMintRequest
	if err := json.NewDecoder(req.Body).Decode(&createReq); err != nil {
		writeErr(rw, cashu.BuildCashuError("invalid request body", cashu.InvalidRequestErrCode))
		return
	}

	instance, err := s.mint.CreateMintInstance(createReq.Name, createReq.Wallet)
	if err != nil {
		writeErr(rw, err)
		return
	}

	rw.WriteHeader(http.StatusCreated)
	writeResponse(rw, instance)
}

type ListMintsResponse struct {
	Mints []storage.MintInstance `json:"mints"`
}

// listMints returns the instances of the wallets passed in the query,
// either as repeated or comma separated values.
func (s *Server) listMints(rw http.ResponseWriter, req *http.Request) {
	var wallets []string
	for _, value := range req.URL.Query()["wallet"] {
		for _, wallet := range strings.Split(value, ",") {
			if wallet = strings.TrimSpace(wallet); len(wallet) > 0 {
				wallets = append(wallets, wallet)
			}
		}
	}

	instances, err := s.mint.ListMintInstances(wallets...)
	if err != nil {
		writeErr(rw, err)
		return
	}
	if instances == nil {
		instances = []storage.MintInstance{}
	}
	writeResponse(rw, ListMintsResponse{Mints: instances})
}

func (s *Server) getMint(rw http.ResponseWriter, req *http.Request) {
	instance, err := s.mint.GetMintInstance(mux.Vars(req)["mint_id"])
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeResponse(rw, instance)
}

func (s *Server) deleteMint(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]
	wallet := req.URL.Query().Get("wallet")

	if err := s.mint.DeleteMintInstance(mintId, wallet); err != nil {
		writeErr(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

type BalanceResponse struct {
	MintId        string `json:"mint_id"`
	Issued        uint64 `json:"issued"`
	Redeemed      uint64 `json:"redeemed"`
	InCirculation uint64 `json:"in_circulation"`
}

func balanceResponse(mintId string, balance storage.Balance) BalanceResponse {
	var inCirculation uint64
	if balance.Issued > balance.Redeemed {
		inCirculation = balance.Issued - balance.Redeemed
	}
	return BalanceResponse{
		MintId:        mintId,
		Issued:        balance.Issued,
		Redeemed:      balance.Redeemed,
		InCirculation: inCirculation,
	}
}

func (s *Server) getBalance(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	balance, err := s.mint.Balance(mintId)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeResponse(rw, balanceResponse(mintId, balance))
}

type TotalBalanceResponse struct {
	Mints              []BalanceResponse `json:"mints"`
	TotalIssued        uint64            `json:"total_issued"`
	TotalRedeemed      uint64            `json:"total_redeemed"`
	TotalInCirculation uint64            `json:"total_circulation"`
}

// returns total amount of ecash in circulation across all mint instances
func (s *Server) getTotalBalance(rw http.ResponseWriter, req *http.Request) {
	instances, err := s.mint.ListMintInstances()
	if err != nil {
		writeErr(rw, err)
		return
	}

	totalBalance := TotalBalanceResponse{Mints: []BalanceResponse{}}
	for _, instance := range instances {
		balance, err := s.mint.Balance(instance.Id)
		if err != nil {
			writeErr(rw, err)
			return
		}

		mintBalance := balanceResponse(instance.Id, balance)
		totalBalance.Mints = append(totalBalance.Mints, mintBalance)
		totalBalance.TotalIssued += mintBalance.Issued
		totalBalance.TotalRedeemed += mintBalance.Redeemed
		totalBalance.TotalInCirculation += mintBalance.InCirculation
	}

	writeResponse(rw, totalBalance)
}
