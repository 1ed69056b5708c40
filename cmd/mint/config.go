package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/elnosh/multimint/mint"
	"github.com/elnosh/multimint/mint/lightning"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/tyler-smith/go-bip39"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

const (
	MINT_MNEMONIC      = "MINT_MNEMONIC"
	MINT_PATH          = "MINT_PATH"
	MINT_PORT          = "MINT_PORT"
	ADMIN_ADDR         = "ADMIN_ADDR"
	DB_BACKEND         = "DB_BACKEND"
	LIGHTNING_BACKEND  = "LIGHTNING_BACKEND"
	MAX_MINT_AMOUNT    = "MAX_MINT_AMOUNT"
	MAX_MELT_AMOUNT    = "MAX_MELT_AMOUNT"
	MELT_TIMEOUT       = "MELT_TIMEOUT"
	INVALIDATE_PENDING = "INVALIDATE_ON_UNCERTAIN_STATUS"
	LOG_LEVEL          = "LOG_LEVEL"

	LND_GRPC_HOST     = "LND_GRPC_HOST"
	LND_CERT_PATH     = "LND_CERT_PATH"
	LND_MACAROON_PATH = "LND_MACAROON_PATH"

	CLN_REST_URL  = "CLN_REST_URL"
	CLN_REST_RUNE = "CLN_REST_RUNE"
)

type serveConfig struct {
	mintConfig mint.Config
	port       string
	adminAddr  string
}

func masterKeyFromMnemonic(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	if len(mnemonic) == 0 {
		return nil, errors.New(MINT_MNEMONIC + " cannot be empty")
	}
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %v", err)
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("error creating master key: %v", err)
	}
	return master, nil
}

func parseUint(key string) (uint64, error) {
	value := os.Getenv(key)
	if len(value) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %v: %v", key, err)
	}
	return n, nil
}

func configFromEnv() (serveConfig, error) {
	masterKey, err := masterKeyFromMnemonic(os.Getenv(MINT_MNEMONIC))
	if err != nil {
		return serveConfig{}, err
	}

	mintConfig := mint.Config{
		MasterKey: masterKey,
		MintPath:  os.Getenv(MINT_PATH),
	}

	switch strings.ToLower(os.Getenv(DB_BACKEND)) {
	case "", "sqlite":
		mintConfig.DBBackend = mint.SQLite
	case "bolt":
		mintConfig.DBBackend = mint.Bolt
	default:
		return serveConfig{}, fmt.Errorf("invalid %v '%v'", DB_BACKEND, os.Getenv(DB_BACKEND))
	}

	switch strings.ToLower(os.Getenv(LOG_LEVEL)) {
	case "debug":
		mintConfig.LogLevel = mint.Debug
	case "disable":
		mintConfig.LogLevel = mint.Disable
	default:
		mintConfig.LogLevel = mint.Info
	}

	if mintConfig.Limits.MaxMintAmount, err = parseUint(MAX_MINT_AMOUNT); err != nil {
		return serveConfig{}, err
	}
	if mintConfig.Limits.MaxMeltAmount, err = parseUint(MAX_MELT_AMOUNT); err != nil {
		return serveConfig{}, err
	}

	if value := os.Getenv(INVALIDATE_PENDING); len(value) > 0 {
		invalidate, err := strconv.ParseBool(value)
		if err != nil {
			return serveConfig{}, fmt.Errorf("invalid %v: %v", INVALIDATE_PENDING, err)
		}
		mintConfig.InvalidateOnUncertainStatus = &invalidate
	}

	if value := os.Getenv(MELT_TIMEOUT); len(value) > 0 {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return serveConfig{}, fmt.Errorf("invalid %v: %v", MELT_TIMEOUT, err)
		}
		mintConfig.MeltTimeout = &timeout
	}

	mintConfig.LightningClient, err = lightningClientFromEnv()
	if err != nil {
		return serveConfig{}, err
	}

	return serveConfig{
		mintConfig: mintConfig,
		port:       os.Getenv(MINT_PORT),
		adminAddr:  os.Getenv(ADMIN_ADDR),
	}, nil
}

func lightningClientFromEnv() (lightning.Client, error) {
	switch os.Getenv(LIGHTNING_BACKEND) {
	case "Lnd":
		host := os.Getenv(LND_GRPC_HOST)
		if len(host) == 0 {
			return nil, errors.New(LND_GRPC_HOST + " cannot be empty")
		}
		certPath := os.Getenv(LND_CERT_PATH)
		if len(certPath) == 0 {
			return nil, errors.New(LND_CERT_PATH + " cannot be empty")
		}
		macaroonPath := os.Getenv(LND_MACAROON_PATH)
		if len(macaroonPath) == 0 {
			return nil, errors.New(LND_MACAROON_PATH + " cannot be empty")
		}

		creds, err := credentials.NewClientTLSFromFile(certPath, "")
		if err != nil {
			return nil, fmt.Errorf("error reading tls cert: %v", err)
		}

		macaroonBytes, err := os.ReadFile(macaroonPath)
		if err != nil {
			return nil, fmt.Errorf("error reading macaroon: %v", err)
		}
		mac := &macaroon.Macaroon{}
		if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
			return nil, fmt.Errorf("unable to decode macaroon: %v", err)
		}
		macarooncreds, err := macaroons.NewMacaroonCredential(mac)
		if err != nil {
			return nil, fmt.Errorf("error setting macaroon creds: %v", err)
		}

		return lightning.SetupLndClient(lightning.LndConfig{
			GRPCHost: host,
			Cert:     creds,
			Macaroon: macarooncreds,
		})

	case "CLN":
		restURL := os.Getenv(CLN_REST_URL)
		if len(restURL) == 0 {
			return nil, errors.New(CLN_REST_URL + " cannot be empty")
		}
		clnRune := os.Getenv(CLN_REST_RUNE)
		if len(clnRune) == 0 {
			return nil, errors.New(CLN_REST_RUNE + " cannot be empty")
		}
		return lightning.SetupCLNClient(lightning.CLNConfig{RestURL: restURL, Rune: clnRune})

	case "FakeBackend":
		return &lightning.FakeBackend{}, nil

	default:
		return nil, fmt.Errorf("invalid %v '%v'", LIGHTNING_BACKEND, os.Getenv(LIGHTNING_BACKEND))
	}
}
