package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/popkomodo/internal/tapdriver"
	"github.com/okian/popkomodo/pkg/logger"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		account  = flag.String("account", "", "Wallet address to connect (default: first account)")
		teamName = flag.String("team", "", "Team to choose if the account has none (Ethereum, Bitcoin, Monad or 0-2)")
		taps     = flag.Int("taps", 500, "Number of taps to send")
		workers  = flag.Int("workers", tapdriver.DefaultWorkers, "Number of concurrent tap senders")
		timeout  = flag.Duration("timeout", tapdriver.DefaultTimeout, "HTTP request timeout")
		interval = flag.Duration("poll", tapdriver.DefaultPollInterval, "How often the session view is re-read while waiting")
		deadline = flag.Duration("deadline", tapdriver.DefaultDeadline, "Upper bound for waiting on a single confirmation")
		verbose  = flag.Bool("verbose", false, "Log every batch")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err := tapdriver.Run(ctx, &tapdriver.Config{
		BaseURL:      *baseURL,
		Account:      *account,
		Team:         *teamName,
		Taps:         *taps,
		Workers:      *workers,
		Timeout:      *timeout,
		PollInterval: *interval,
		Deadline:     *deadline,
		Verbose:      *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "tap driver failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}
