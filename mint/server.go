package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut03"
	"github.com/elnosh/multimint/cashu/nuts/nut04"
	"github.com/elnosh/multimint/cashu/nuts/nut05"
	"github.com/elnosh/multimint/cashu/nuts/nut07"
	"github.com/gorilla/mux"
)

const maxBodySize = 1 << 20

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
}

func SetupMintServer(mint *Mint, port string) *MintServer {
	mintServer := &MintServer{mint: mint}
	mintServer.setupHttpServer(port)
	return mintServer
}

func (ms *MintServer) Start() error {
	ms.mint.logInfof("mint server listening on: %v", ms.httpServer.Addr)
	err := ms.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown() error {
	ms.mint.logInfof("shutting down mint server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ms.httpServer.Shutdown(ctx)
}

// Handler serves the mint api of every instance and the metrics endpoint.
func (ms *MintServer) Handler() http.Handler {
	return ms.httpServer.Handler
}

func (ms *MintServer) setupHttpServer(port string) {
	if len(port) == 0 {
		port = "3338"
	}

	server := &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: ms.router(),
	}
	ms.httpServer = server
}

func (ms *MintServer) router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", ms.mint.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/{mint_id}").Subrouter()
	api.HandleFunc("/keys", ms.getKeys).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/keysets", ms.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/mint", ms.requestMint).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/mint", ms.mintTokens).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/melt", ms.melt).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/check", ms.checkSpendable).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/checkfees", ms.checkFees).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/split", ms.split).Methods(http.MethodPost, http.MethodOptions)
	api.Use(setupHeaders)

	return r
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

// statusCode maps an error kind to the http status of the response.
func statusCode(kind cashu.ErrorKind) int {
	switch kind {
	case cashu.KindNotFound:
		return http.StatusNotFound
	case cashu.KindAlreadyIssued:
		return http.StatusConflict
	case cashu.KindPaymentNotConfirmed:
		return http.StatusPaymentRequired
	case cashu.KindPaymentBackend:
		return http.StatusBadGateway
	case cashu.KindForbidden:
		return http.StatusForbidden
	case cashu.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response any, logmsg string) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.mint.logInfof("returning response to %v %v: %v", req.Method, req.URL.Path, logmsg)
	rw.Write(jsonRes)
}

// writeErr writes a cashu error. Errors that are not cashu
// errors or db errors are returned as StandardErr.
func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error) {
	var cashuErr cashu.Error
	var cashuErrPtr *cashu.Error
	switch {
	case errors.As(err, &cashuErrPtr):
		cashuErr = *cashuErrPtr
	case errors.As(err, &cashuErr):
	default:
		ms.mint.logErrorf("error handling %v %v: %v", req.Method, req.URL.Path, err)
		cashuErr = cashu.StandardErr
	}

	if cashuErr.Code == cashu.DBErrCode {
		cashuErr = cashu.StandardErr
	}

	ms.mint.logDebugf("returning error to %v %v: %v", req.Method, req.URL.Path, cashuErr.Detail)
	rw.WriteHeader(statusCode(cashuErr.Kind()))
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, req.Body, maxBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return cashu.EmptyBodyErr
		}
		return cashu.BuildCashuError(fmt.Sprintf("invalid request body: %v", err), cashu.InvalidRequestErrCode)
	}
	return nil
}

func (ms *MintServer) getKeys(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	keys, err := ms.mint.PublicKeys(mintId)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, keys, "returned keys for mint "+mintId)
}

func (ms *MintServer) getKeysets(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	keysets, err := ms.mint.Keysets(mintId)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, keysets, "returned keysets for mint "+mintId)
}

func (ms *MintServer) requestMint(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	amount, err := strconv.ParseUint(req.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		ms.writeErr(rw, req, cashu.InvalidAmountErr)
		return
	}

	mintResponse, err := ms.mint.RequestMint(req.Context(), mintId, amount)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, mintResponse, "created invoice "+mintResponse.PaymentHash)
}

func (ms *MintServer) mintTokens(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]
	paymentHash := req.URL.Query().Get("payment_hash")
	if len(paymentHash) == 0 {
		ms.writeErr(rw, req, cashu.InvoiceNotExistErr)
		return
	}

	var mintReq nut04.PostMintRequest
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	blindedSignatures, err := ms.mint.IssueTokens(req.Context(), mintId, paymentHash, mintReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, blindedSignatures, "issued tokens for invoice "+paymentHash)
}

func (ms *MintServer) melt(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	var meltReq nut05.PostMeltRequest
	if err := decodeJsonReqBody(req, &meltReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	meltResponse, err := ms.mint.Melt(req.Context(), mintId, meltReq.Proofs, meltReq.Invoice)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, meltResponse, fmt.Sprintf("melt paid: %v", meltResponse.Paid))
}

func (ms *MintServer) checkSpendable(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	var checkReq nut07.PostCheckRequest
	if err := decodeJsonReqBody(req, &checkReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	checkResponse, err := ms.mint.CheckSpendable(req.Context(), mintId, checkReq.Proofs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, checkResponse, "checked proofs state")
}

func (ms *MintServer) checkFees(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	var feesReq nut05.PostCheckFeesRequest
	if err := decodeJsonReqBody(req, &feesReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	feesResponse, err := ms.mint.CheckFees(req.Context(), mintId, feesReq.PaymentRequest)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, feesResponse, fmt.Sprintf("fee reserve: %v", feesResponse.Fee))
}

func (ms *MintServer) split(rw http.ResponseWriter, req *http.Request) {
	mintId := mux.Vars(req)["mint_id"]

	var splitReq nut03.PostSplitRequest
	if err := decodeJsonReqBody(req, &splitReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	fst, snd, err := ms.mint.Split(req.Context(), mintId, splitReq.Proofs, splitReq.Amount, splitReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, nut03.PostSplitResponse{Fst: fst, Snd: snd}, "split proofs")
}
