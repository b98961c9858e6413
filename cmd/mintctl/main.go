// Command mintctl drives a pda-mint node over JSON-RPC: key management,
// funding, mint creation, minting and balance queries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: mintctl [global flags] <command> [flags]

Commands:
  keygen       write a new keypair file
  address      print the address of a keypair
  airdrop      request lamports for an address
  create-mint  create the program-owned mint
  mint         mint tokens to an owner's holder account
  balance      show lamports and token balance of an owner
  supply       show the mint supply and authority
  watch        stream mint events

Global flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.New(os.Stderr, "[mintctl] ", 0).Fatal(err)
	}
}

// run parses global flags and dispatches to a command.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mintctl", flag.ContinueOnError)
	fs.SetOutput(out)
	opts := globalOptions{}
	fs.StringVar(&opts.rpcURL, "rpc", envOr("PDA_MINT_RPC_URL", "http://localhost:8899"), "JSON-RPC endpoint")
	fs.StringVar(&opts.wsURL, "ws", os.Getenv("PDA_MINT_WS_URL"), "WebSocket endpoint (default: derived from --rpc)")
	fs.StringVar(&opts.programID, "program-id", os.Getenv("PDA_MINT_PROGRAM_ID"), "Mint program ID (default: built-in)")
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	c, err := newCLI(opts, out)
	if err != nil {
		return err
	}
	return cmd(ctx, c, fs.Args()[1:])
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
