// Package wallet is a client for the mint instances of a multimint
// server. The mint url of every call is the base url of one instance,
// e.g. http://127.0.0.1:3338/api/v1/<mint_id>.
package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut01"
	"github.com/elnosh/multimint/cashu/nuts/nut02"
	"github.com/elnosh/multimint/cashu/nuts/nut03"
	"github.com/elnosh/multimint/cashu/nuts/nut04"
	"github.com/elnosh/multimint/cashu/nuts/nut05"
	"github.com/elnosh/multimint/cashu/nuts/nut07"
)

func GetKeys(mintURL string) (nut01.KeysMap, error) {
	resp, err := get(mintURL + "/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	keys := make(nut01.KeysMap)
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return keys, nil
}

func GetKeysets(mintURL string) (*nut02.GetKeysetsResponse, error) {
	resp, err := get(mintURL + "/keysets")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var keysetsRes nut02.GetKeysetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&keysetsRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &keysetsRes, nil
}

// RequestMint asks the mint for an invoice of amount sats.
func RequestMint(mintURL string, amount uint64) (*nut04.GetMintResponse, error) {
	resp, err := get(mintURL + "/mint?amount=" + strconv.FormatUint(amount, 10))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mintResponse nut04.GetMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &mintResponse, nil
}

func PostMint(mintURL, paymentHash string, mintRequest nut04.PostMintRequest) (cashu.BlindedSignatures, error) {
	var signatures cashu.BlindedSignatures
	err := postJSON(mintURL+"/mint?payment_hash="+url.QueryEscape(paymentHash), mintRequest, &signatures)
	if err != nil {
		return nil, err
	}
	return signatures, nil
}

func PostSplit(mintURL string, splitRequest nut03.PostSplitRequest) (*nut03.PostSplitResponse, error) {
	var splitResponse nut03.PostSplitResponse
	if err := postJSON(mintURL+"/split", splitRequest, &splitResponse); err != nil {
		return nil, err
	}
	return &splitResponse, nil
}

func PostMelt(mintURL string, meltRequest nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	var meltResponse nut05.PostMeltResponse
	if err := postJSON(mintURL+"/melt", meltRequest, &meltResponse); err != nil {
		return nil, err
	}
	return &meltResponse, nil
}

func PostCheck(mintURL string, checkRequest nut07.PostCheckRequest) (nut07.PostCheckResponse, error) {
	var checkResponse nut07.PostCheckResponse
	if err := postJSON(mintURL+"/check", checkRequest, &checkResponse); err != nil {
		return nil, err
	}
	return checkResponse, nil
}

func PostCheckFees(mintURL string, feesRequest nut05.PostCheckFeesRequest) (*nut05.PostCheckFeesResponse, error) {
	var feesResponse nut05.PostCheckFeesResponse
	if err := postJSON(mintURL+"/checkfees", feesRequest, &feesResponse); err != nil {
		return nil, err
	}
	return &feesResponse, nil
}

func postJSON(url string, body, dst any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %v", err)
	}

	resp, err := httpPost(url, "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func get(url string) (*http.Response, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

func httpPost(url, contentType string, body io.Reader) (*http.Response, error) {
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

// parse returns the cashu error in the body of a failed response.
func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == http.StatusOK {
		return response, nil
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	var errResponse cashu.Error
	if err := json.Unmarshal(body, &errResponse); err != nil || errResponse.Code == 0 {
		return nil, fmt.Errorf("%s", body)
	}
	return nil, errResponse
}
