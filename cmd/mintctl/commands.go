package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"solana-pda-mint/internal/associated"
	"solana-pda-mint/internal/events"
	"solana-pda-mint/internal/mintprogram"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/runtime"
	"solana-pda-mint/internal/solana"
	"solana-pda-mint/internal/token"
	"solana-pda-mint/internal/wallet"
)

const defaultKeypair = "payer.json"

type globalOptions struct {
	rpcURL    string
	wsURL     string
	programID string
}

// cli carries what every command needs.
type cli struct {
	rpc   solana.RPCClient
	wsURL string
	cfg   mintprogram.Config
	out   io.Writer
}

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"keygen":      keygenCmd,
	"address":     addressCmd,
	"airdrop":     airdropCmd,
	"create-mint": createMintCmd,
	"mint":        mintCmd,
	"balance":     balanceCmd,
	"supply":      supplyCmd,
	"watch":       watchCmd,
}

func newCLI(opts globalOptions, out io.Writer) (*cli, error) {
	programID := mintprogram.DefaultProgramID
	if opts.programID != "" {
		id, err := pda.ParseAddress(opts.programID)
		if err != nil {
			return nil, fmt.Errorf("--program-id: %w", err)
		}
		programID = id
	}
	cfg, err := mintprogram.NewConfig(programID)
	if err != nil {
		return nil, err
	}

	wsURL := opts.wsURL
	if wsURL == "" {
		wsURL, err = deriveWSURL(opts.rpcURL)
		if err != nil {
			return nil, err
		}
	}

	return &cli{
		rpc:   solana.NewHTTPClient(opts.rpcURL, solana.WithMaxRetries(1)),
		wsURL: wsURL,
		cfg:   cfg,
		out:   out,
	}, nil
}

// deriveWSURL maps http(s)://host to ws(s)://host/ws.
func deriveWSURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("--rpc: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("--rpc: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func newFlagSet(name string, c *cli) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func keygenCmd(_ context.Context, c *cli, args []string) error {
	fs := newFlagSet("keygen", c)
	outPath := fs.String("out", defaultKeypair, "Keypair file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := wallet.Generate()
	if err := wallet.Save(*outPath, key); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Wrote %s\nAddress: %s\n", *outPath, wallet.Address(key))
	return nil
}

func addressCmd(_ context.Context, c *cli, args []string) error {
	fs := newFlagSet("address", c)
	keypair := fs.String("keypair", defaultKeypair, "Keypair file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := wallet.Load(*keypair)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, wallet.Address(key))
	return nil
}

func airdropCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("airdrop", c)
	keypair := fs.String("keypair", defaultKeypair, "Keypair file of the recipient (ignored with --to)")
	to := fs.String("to", "", "Recipient address")
	lamports := fs.Uint64("lamports", 1_000_000_000, "Lamports to request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recipient, err := resolveAddress(*to, *keypair)
	if err != nil {
		return err
	}

	sig, err := c.rpc.RequestAirdrop(ctx, recipient.String(), *lamports)
	if err != nil {
		return fmt.Errorf("airdrop: %w", err)
	}
	balance, err := c.rpc.GetBalance(ctx, recipient.String())
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	fmt.Fprintf(c.out, "Signature: %s\nBalance: %d lamports\n", sig, balance)
	return nil
}

func createMintCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("create-mint", c)
	keypair := fs.String("keypair", defaultKeypair, "Fee payer keypair file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := wallet.Load(*keypair)
	if err != nil {
		return err
	}

	ix := mintprogram.NewCreateMintInstruction(c.cfg, wallet.Address(key))
	sig, err := c.send(ctx, key, ix)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signature: %s\nMint: %s\n", sig, c.cfg.MintAddress())
	return nil
}

func mintCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("mint", c)
	keypair := fs.String("keypair", defaultKeypair, "Fee payer keypair file")
	owner := fs.String("owner", "", "Owner of the receiving holder account (default: the payer)")
	amount := fs.Uint64("amount", 0, "Amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := wallet.Load(*keypair)
	if err != nil {
		return err
	}
	payer := wallet.Address(key)
	recipient := payer
	if *owner != "" {
		if recipient, err = pda.ParseAddress(*owner); err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
	}

	ix, err := mintprogram.NewMintTokensInstruction(c.cfg, payer, recipient, *amount)
	if err != nil {
		return err
	}
	sig, err := c.send(ctx, key, ix)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signature: %s\nHolder: %s\n", sig, ix.Accounts[3].Address)
	return nil
}

func balanceCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("balance", c)
	keypair := fs.String("keypair", defaultKeypair, "Keypair file of the owner (ignored with --owner)")
	owner := fs.String("owner", "", "Owner address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr, err := resolveAddress(*owner, *keypair)
	if err != nil {
		return err
	}

	lamports, err := c.rpc.GetBalance(ctx, addr.String())
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	fmt.Fprintf(c.out, "Owner: %s\nLamports: %d\n", addr, lamports)

	holder, _, err := associated.DeriveAddress(addr, c.cfg.MintAddress())
	if err != nil {
		return err
	}
	info, err := c.rpc.GetAccountInfo(ctx, holder.String())
	if err != nil {
		return fmt.Errorf("get holder: %w", err)
	}
	if info == nil {
		fmt.Fprintf(c.out, "Holder: %s (not created)\nTokens: 0\n", holder)
		return nil
	}

	amount, err := c.rpc.GetTokenAccountBalance(ctx, holder.String())
	if err != nil {
		return fmt.Errorf("get token balance: %w", err)
	}
	fmt.Fprintf(c.out, "Holder: %s\nTokens: %s (%d base units)\n", holder, amount.UIAmountString, amount.Amount)
	return nil
}

func supplyCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("supply", c)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mintAddr := c.cfg.MintAddress()
	info, err := c.rpc.GetAccountInfo(ctx, mintAddr.String())
	if err != nil {
		return fmt.Errorf("get mint: %w", err)
	}
	if info == nil {
		fmt.Fprintf(c.out, "Mint: %s\nState: UNINITIALIZED\n", mintAddr)
		return nil
	}

	mint, err := token.UnpackMint(info.Data)
	if err != nil {
		return fmt.Errorf("decode mint: %w", err)
	}
	amount, err := c.rpc.GetTokenSupply(ctx, mintAddr.String())
	if err != nil {
		return fmt.Errorf("get supply: %w", err)
	}
	fmt.Fprintf(c.out, "Mint: %s\nState: ACTIVE\nSupply: %s (%d base units)\nDecimals: %d\nMint authority: %s\nFreeze authority: %s\n",
		mintAddr, amount.UIAmountString, mint.Supply, mint.Decimals,
		optionalString(mint.MintAuthority), optionalString(mint.FreezeAuthority))
	return nil
}

func watchCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("watch", c)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ws, err := solana.NewWSClient(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	programID := c.cfg.ProgramID().String()
	ch, err := ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{programID}})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	fmt.Fprintf(c.out, "Watching %s\n", programID)

	parser := events.NewParser(programID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if n.Err != nil {
				fmt.Fprintf(c.out, "slot=%d tx=%s failed: %s\n", n.Slot, n.Signature, *n.Err)
				continue
			}
			for _, ev := range parser.ParseLogs(n.Logs, n.Signature, n.Slot, time.Now().Unix()) {
				switch ev.Kind {
				case events.KindMintCreated:
					fmt.Fprintf(c.out, "slot=%d tx=%s mint created %s\n", ev.Slot, ev.TxSignature, ev.Address)
				case events.KindTokensMinted:
					fmt.Fprintf(c.out, "slot=%d tx=%s minted %d to %s\n", ev.Slot, ev.TxSignature, ev.Amount, ev.Address)
				}
			}
		}
	}
}

// send signs ixs with key and submits them. Failed transactions print their
// logs.
func (c *cli) send(ctx context.Context, key ed25519.PrivateKey, ixs ...runtime.Instruction) (string, error) {
	tx := runtime.NewTransaction(uint64(time.Now().UnixNano()), ixs...)
	if err := tx.Sign(key); err != nil {
		return "", err
	}

	sig, err := c.rpc.SendTransaction(ctx, tx.Encode())
	if err != nil {
		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Data != nil {
			for _, line := range rpcErr.Data.Logs {
				fmt.Fprintf(c.out, "  %s\n", line)
			}
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// resolveAddress prefers an explicit address over a keypair file.
func resolveAddress(addr, keypair string) (pda.Address, error) {
	if addr != "" {
		return pda.ParseAddress(addr)
	}
	key, err := wallet.Load(keypair)
	if err != nil {
		return pda.Zero, err
	}
	return wallet.Address(key), nil
}

func optionalString(o token.OptionalAddress) string {
	if !o.Valid {
		return "none"
	}
	return o.Address.String()
}
