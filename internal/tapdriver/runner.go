package tapdriver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/pkg/logger"
)

// Run executes a complete driver run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	cfg.normalize()
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("tapdriver")
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting tap driver",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("taps", cfg.Taps),
		logger.Int("workers", cfg.Workers),
		logger.String("team", cfg.Team))

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	// Step 2: Connect the wallet
	identity, err := client.Connect(ctx, cfg.Account)
	if err != nil {
		return stats, fmt.Errorf("connect wallet: %w", err)
	}
	log.Info(ctx, "wallet connected", logger.String("identity", identity))

	// Step 3: Make sure the account has a team
	v, err := waitFor(ctx, cfg, client, func(v model.View) bool { return !v.Configured || v.TeamKnown })
	if err != nil {
		return stats, err
	}
	if !v.Configured {
		return stats, ErrUnconfigured
	}
	if !v.TeamChosen {
		if v, err = chooseTeam(ctx, cfg, client); err != nil {
			return stats, err
		}
	}
	log.Info(ctx, "team assigned", logger.String("team", v.Team))

	// Step 4: Record the starting score
	err = poll(ctx, cfg, func(ctx context.Context) bool {
		var ok bool
		stats.ScoreBefore, ok = teamScore(ctx, client, v.Team)
		return ok
	})
	if err != nil {
		return stats, fmt.Errorf("read %s score: %w", v.Team, err)
	}

	// Step 5: Tap and submit in capped batches
	for remaining := cfg.Taps; remaining > 0; {
		n := min(remaining, batchCap)
		if err := runBatch(ctx, cfg, client, n, stats); err != nil {
			return stats, err
		}
		remaining -= n
		if cfg.Verbose {
			log.Info(ctx, "batch done",
				logger.Int("batch", stats.Batches),
				logger.Int("confirmed", stats.PopsConfirmed),
				logger.Int("remaining", remaining))
		}
	}

	// Step 6: Verify the score moved
	if err := verifyScore(ctx, cfg, client, v.Team, stats); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

func chooseTeam(ctx context.Context, cfg *Config, client *Client) (model.View, error) {
	if cfg.Team == "" {
		return model.View{}, ErrNoTeam
	}
	if err := client.ChooseTeam(ctx, cfg.Team); err != nil {
		return model.View{}, fmt.Errorf("choose team: %w", err)
	}
	v, err := waitFor(ctx, cfg, client, func(v model.View) bool { return v.State != model.StateChoosing })
	if err != nil {
		return v, err
	}
	if !v.TeamChosen {
		return v, fmt.Errorf("%w: chooseTeam: %s", ErrWriteFailed, v.LastError)
	}
	return v, nil
}

// runBatch sends n taps concurrently, then submits them and waits for the
// submission to settle.
func runBatch(ctx context.Context, cfg *Config, client *Client, n int, stats *Stats) error {
	var accepted, refused atomic.Int64
	taps := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range taps {
				if err := client.Pop(ctx); err != nil {
					refused.Add(1)
					continue
				}
				accepted.Add(1)
			}
		}()
	}
	for i := 0; i < n; i++ {
		taps <- struct{}{}
	}
	close(taps)
	wg.Wait()

	stats.TapsSent += n
	stats.TapsAccepted += int(accepted.Load())
	stats.TapsRefused += int(refused.Load())

	before, err := client.View(ctx)
	if err != nil {
		return err
	}
	if before.PendingPops == 0 {
		return nil
	}
	if err := client.Submit(ctx); err != nil {
		return fmt.Errorf("submit pops: %w", err)
	}
	stats.Batches++

	after, err := waitFor(ctx, cfg, client, func(v model.View) bool { return v.State != model.StateSubmitting })
	if err != nil {
		return err
	}
	if after.PendingPops >= before.PendingPops {
		return fmt.Errorf("%w: popBy(%d): %s", ErrWriteFailed, before.PendingPops, after.LastError)
	}
	stats.PopsConfirmed += min(before.PendingPops, batchCap)
	return nil
}

// teamScore reads the numeric score of label; false while it renders as a placeholder.
func teamScore(ctx context.Context, client *Client, label string) (uint64, bool) {
	rows, err := client.Leaderboard(ctx)
	if err != nil {
		return 0, false
	}
	for _, r := range rows {
		if r.Label != label {
			continue
		}
		n, err := strconv.ParseUint(r.Score, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// waitFor polls /view until done reports true.
func waitFor(ctx context.Context, cfg *Config, client *Client, done func(model.View) bool) (model.View, error) {
	var v model.View
	err := poll(ctx, cfg, func(ctx context.Context) bool {
		got, err := client.View(ctx)
		if err != nil {
			return false
		}
		v = got
		return done(got)
	})
	return v, err
}

// poll runs check every PollInterval until it reports true or Deadline passes.
func poll(ctx context.Context, cfg *Config, check func(context.Context) bool) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		if check(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
