// Package main runs a pda-mint node: the ledger with the system, token,
// associated token and mint programs behind a JSON-RPC + WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/ledger"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
	"solana-pda-mint/internal/rpcserver"
	"solana-pda-mint/internal/storage"
	chstore "solana-pda-mint/internal/storage/clickhouse"
	"solana-pda-mint/internal/storage/memory"
	"solana-pda-mint/internal/storage/migrations"
	pgstore "solana-pda-mint/internal/storage/postgres"
	"solana-pda-mint/internal/verification"
)

// config is read from PDA_MINT_* variables; flags override it.
type config struct {
	ListenAddr    string `env:"PDA_MINT_LISTEN_ADDR" envDefault:":8899"`
	ProgramID     string `env:"PDA_MINT_PROGRAM_ID"`
	PostgresDSN   string `env:"PDA_MINT_POSTGRES_DSN"`
	ClickHouseDSN string `env:"PDA_MINT_CLICKHOUSE_DSN"`
	UseMemory     bool   `env:"PDA_MINT_USE_MEMORY"`
	Migrate       bool   `env:"PDA_MINT_MIGRATE" envDefault:"true"`
	MaxAirdrop    uint64 `env:"PDA_MINT_MAX_AIRDROP" envDefault:"10000000000"`
	OTLPEndpoint  string `env:"PDA_MINT_OTLP_ENDPOINT"`
	Verify        bool   `env:"PDA_MINT_VERIFY" envDefault:"true"`
}

// stores holds the storage backends chosen by config.
type stores struct {
	accounts     storage.AccountStore
	transactions storage.TransactionStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address for JSON-RPC, WebSocket and metrics")
	flag.StringVar(&cfg.ProgramID, "program-id", cfg.ProgramID, "Mint program ID (base58)")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string for accounts")
	flag.StringVar(&cfg.ClickHouseDSN, "clickhouse-dsn", cfg.ClickHouseDSN, "ClickHouse connection string for transaction history")
	flag.BoolVar(&cfg.UseMemory, "use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	flag.BoolVar(&cfg.Migrate, "migrate", cfg.Migrate, "Apply database migrations on startup")
	flag.Uint64Var(&cfg.MaxAirdrop, "max-airdrop", cfg.MaxAirdrop, "Largest requestAirdrop in lamports, 0 disables airdrops")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP trace endpoint, empty disables tracing")
	flag.BoolVar(&cfg.Verify, "verify", cfg.Verify, "Replay transaction history against stored balances on startup")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !cfg.UseMemory && cfg.PostgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	var programID pda.Address
	if cfg.ProgramID != "" {
		id, err := pda.ParseAddress(cfg.ProgramID)
		if err != nil {
			logger.Fatalf("Invalid --program-id: %v", err)
		}
		programID = id
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "pda-mint-server", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatalf("Failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	startSlot, err := st.transactions.LatestSlot(ctx)
	if err != nil {
		logger.Fatalf("Failed to read latest slot: %v", err)
	}

	l, err := ledger.New(st.accounts, ledger.Options{
		ProgramID:    programID,
		Transactions: st.transactions,
		Logger:       log.New(os.Stdout, "[runtime] ", log.LstdFlags),
		StartSlot:    startSlot,
	})
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}
	l.Runtime().Subscribe(func(rec *domain.TransactionRecord) {
		observability.UpdateSlot(rec.Slot)
	})
	observability.UpdateSlot(startSlot)

	state, err := l.MintState(ctx)
	if err != nil {
		logger.Fatalf("Failed to read mint state: %v", err)
	}
	logger.Printf("Mint program %s, mint %s (%s), resuming after slot %d",
		l.Config().ProgramID(), l.Config().MintAddress(), state, startSlot)

	if cfg.Verify {
		if err := verifyLedger(ctx, st, l, logger); err != nil {
			logger.Fatalf("Ledger verification failed: %v", err)
		}
	}

	rpc := rpcserver.New(l, st.transactions,
		rpcserver.WithLogger(log.New(os.Stdout, "[rpc] ", log.LstdFlags)),
		rpcserver.WithMaxAirdrop(cfg.MaxAirdrop),
	)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           rpc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
		}
		cancel()
	}

	rpc.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	shutdownCancel()
	close(done)

	logger.Println("Shutdown complete")
}

// createStores opens the configured backends. Accounts live in memory or
// PostgreSQL; history goes to ClickHouse when configured, else next to the
// accounts.
func createStores(ctx context.Context, cfg config, logger *log.Logger) (*stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st := &stores{}

	if cfg.UseMemory {
		logger.Println("Using in-memory account storage")
		st.accounts = memory.NewAccountStore()
		st.transactions = memory.NewTransactionStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		logger.Println("Using PostgreSQL account storage")
		st.accounts = pgstore.NewAccountStore(pool)
		st.transactions = pgstore.NewTransactionStore(pool)
	}

	if cfg.ClickHouseDSN != "" {
		var conn *chstore.Conn
		var err error
		if cfg.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
		}
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("connect clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })

		logger.Println("Using ClickHouse transaction history")
		st.transactions = chstore.NewTransactionStore(conn)
	}

	return st, cleanup, nil
}

// verifyLedger replays the recorded mint history and fails on any mismatch
// with the stored supply or holder balances.
func verifyLedger(ctx context.Context, st *stores, l *ledger.Ledger, logger *log.Logger) error {
	v := verification.NewSupplyVerifier(st.accounts, st.transactions, l.Config())
	report, err := v.Verify(ctx)
	if err != nil {
		return err
	}
	if !report.Match() {
		for _, d := range report.Divergences {
			logger.Printf("  %s: history %v, stored %v", d.Field, d.Expected, d.Actual)
		}
		return fmt.Errorf("%d divergences", len(report.Divergences))
	}
	logger.Printf("Verified %d transactions, %d holders, supply %d",
		report.Transactions, len(report.Holders), report.StoredSupply)
	return nil
}

// loadEnvFile loads environment variables from .env file.
// Existing variables win.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
