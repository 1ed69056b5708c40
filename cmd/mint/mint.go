package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint"
	"github.com/elnosh/multimint/mint/manager"
	"github.com/joho/godotenv"
	"github.com/tyler-smith/go-bip39"
	"github.com/urfave/cli/v2"
)

const (
	ADMIN_URL_FLAG = "admin-url"
	NAME_FLAG      = "name"
	WALLET_FLAG    = "wallet"
)

func main() {
	app := &cli.App{
		Name:  "multimint",
		Usage: "run many cashu mints on one lightning node",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the mint and admin servers",
				Action: serve,
			},
			{
				Name:   "mnemonic",
				Usage:  "Generate a new mnemonic for the mint master key",
				Action: newMnemonic,
			},
			{
				Name:  "instances",
				Usage: "Manage mint instances through the admin server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    ADMIN_URL_FLAG,
						Value:   "http://127.0.0.1:8080",
						EnvVars: []string{"ADMIN_URL"},
						Usage:   "url of the admin server",
					},
				},
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a mint instance",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: NAME_FLAG, Required: true, Usage: "name of the mint"},
							&cli.StringFlag{Name: WALLET_FLAG, Required: true, Usage: "wallet that owns the mint"},
						},
						Action: createInstance,
					},
					{
						Name:  "list",
						Usage: "List mint instances",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: WALLET_FLAG, Usage: "only list mints of these wallets"},
						},
						Action: listInstances,
					},
					{
						Name:      "delete",
						Usage:     "Delete a mint instance",
						ArgsUsage: "[MINT_ID]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: WALLET_FLAG, Required: true, Usage: "wallet that owns the mint"},
						},
						Action: deleteInstance,
					},
					{
						Name:      "balance",
						Usage:     "Get the ecash issued and redeemed by a mint instance",
						ArgsUsage: "[MINT_ID]",
						Action:    instanceBalance,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx *cli.Context) error {
	// env vars can also be set directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %v", err)
	}

	config, err := configFromEnv()
	if err != nil {
		return err
	}

	m, err := mint.LoadMint(config.mintConfig)
	if err != nil {
		return fmt.Errorf("error loading mint: %v", err)
	}
	defer m.Shutdown()

	mintServer := mint.SetupMintServer(m, config.port)
	adminServer := manager.SetupServer(m, config.adminAddr)

	errc := make(chan error, 2)
	go func() { errc <- mintServer.Start() }()
	go func() { errc <- adminServer.Start() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errc:
	case <-sigc:
	}

	mintServer.Shutdown()
	adminServer.Shutdown()
	return err
}

func newMnemonic(ctx *cli.Context) error {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func adminRequest(ctx *cli.Context, method, path string, body any, dst any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx.Context, method, ctx.String(ADMIN_URL_FLAG)+path, reqBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error reaching admin server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errRes cashu.Error
		if err := json.NewDecoder(resp.Body).Decode(&errRes); err != nil {
			return fmt.Errorf("admin server returned status %v", resp.StatusCode)
		}
		return errRes
	}

	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func printJSON(v any) error {
	jsonRes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonRes))
	return nil
}

func createInstance(ctx *cli.Context) error {
	createReq := manager.CreateMintRequest{
		Name:   ctx.String(NAME_FLAG),
		Wallet: ctx.String(WALLET_FLAG),
	}

	var instance json.RawMessage
	if err := adminRequest(ctx, http.MethodPost, "/mints", createReq, &instance); err != nil {
		return err
	}
	return printJSON(instance)
}

func listInstances(ctx *cli.Context) error {
	query := url.Values{}
	for _, wallet := range ctx.StringSlice(WALLET_FLAG) {
		query.Add("wallet", wallet)
	}

	path := "/mints"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var listResponse manager.ListMintsResponse
	if err := adminRequest(ctx, http.MethodGet, path, nil, &listResponse); err != nil {
		return err
	}
	return printJSON(listResponse.Mints)
}

func deleteInstance(ctx *cli.Context) error {
	mintId := ctx.Args().First()
	if len(mintId) == 0 {
		return errors.New("specify the id of the mint to delete")
	}

	path := fmt.Sprintf("/mints/%v?wallet=%v", url.PathEscape(mintId), url.QueryEscape(ctx.String(WALLET_FLAG)))
	if err := adminRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Printf("deleted mint %v\n", mintId)
	return nil
}

func instanceBalance(ctx *cli.Context) error {
	mintId := ctx.Args().First()
	if len(mintId) == 0 {
		return errors.New("specify the id of the mint")
	}

	var balance manager.BalanceResponse
	if err := adminRequest(ctx, http.MethodGet, "/mints/"+url.PathEscape(mintId)+"/balance", nil, &balance); err != nil {
		return err
	}
	return printJSON(balance)
}
