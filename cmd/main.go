package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okian/popkomodo/internal/adapters/evm"
	"github.com/okian/popkomodo/internal/adapters/http/api"
	"github.com/okian/popkomodo/internal/adapters/http/site"
	"github.com/okian/popkomodo/internal/adapters/http/swagger"
	"github.com/okian/popkomodo/internal/adapters/wallet"
	service "github.com/okian/popkomodo/internal/app"
	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/config"
	"github.com/okian/popkomodo/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// dialFunc opens the RPC client; replaced in tests.
type dialFunc func(ctx context.Context, rpcURL string, signer evm.Signer, opts ...evm.Option) (*evm.Client, error)

// components is everything main wires together.
type components struct {
	wallet *wallet.Wallet
	client *evm.Client
	svc    *service.Service
	mux    *http.ServeMux
}

func (c *components) close() {
	if c.client != nil {
		c.client.Close()
	}
}

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		os.Stderr.WriteString("failed to read .env: " + err.Error() + "\n")
		return
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	app, err := build(ctx, cfg, evm.Dial)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build session", logger.Error(err))
		return
	}
	defer app.close()

	if err := app.svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start session", logger.Error(err))
		return
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	app.svc.Stop(shutdownCtx)

	loggerInstance.Info(shutdownCtx, "server stopped")
}

// build assembles the wallet, the contract client, the session controller and
// the HTTP routes. Without a contract address no RPC connection is made and
// the session runs unconfigured.
func build(ctx context.Context, cfg *config.Config, dial dialFunc) (*components, error) {
	log := logger.Get()

	w, err := wallet.New(cfg.ChainID, cfg.Keys())
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	if len(w.Accounts()) == 0 {
		log.Warn(ctx, "no private keys configured; wallet cannot connect")
	}

	c := &components{wallet: w}
	opts := []service.Option{
		service.WithPollInterval(cfg.PollInterval()),
		service.WithWorkerCount(cfg.DispatchWorkers),
		service.WithQueueSize(cfg.DispatchQueueSize),
	}

	if cfg.Configured() {
		client, err := dial(ctx, cfg.RPCURL, w, evm.WithReadTimeout(cfg.ReadTimeout()))
		if err != nil {
			return nil, err
		}
		c.client = client
		address := common.HexToAddress(strings.TrimSpace(cfg.ContractAddress))
		opts = append(opts, service.WithContract(chain.NewContract(address, client, client)))
		log.Info(ctx, "contract bound",
			logger.String("contract", address.Hex()),
			logger.String("rpc_url", cfg.RPCURL),
			logger.Any("chain_id", cfg.ChainID))
	} else {
		log.Warn(ctx, "contract address not set; running unconfigured")
	}

	c.svc = service.New(w, opts...)

	c.mux = http.NewServeMux()
	swagger.Register(ctx, c.mux)
	api.NewServer(c.svc, w, c.svc).Register(ctx, c.mux)
	site.Register(ctx, c.mux, c.svc, w)
	return c, nil
}
