package tapdriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/popkomodo/pkg/logger"
)

// verifyScore waits for the team score to include every confirmed pop. Other
// players may push it further; it must never fall short.
func verifyScore(ctx context.Context, cfg *Config, client *Client, label string, stats *Stats) error {
	want := stats.ScoreBefore + uint64(stats.PopsConfirmed)
	err := poll(ctx, cfg, func(ctx context.Context) bool {
		score, ok := teamScore(ctx, client, label)
		if ok {
			stats.ScoreAfter = score
		}
		return ok && score >= want
	})
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s is %d, want at least %d", ErrScoreMoved, label, stats.ScoreAfter, want)
	}
	return err
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var tapsPerSecond float64
	if stats.Duration > 0 {
		tapsPerSecond = float64(stats.TapsSent) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("tapsSent", stats.TapsSent),
		logger.Int("tapsAccepted", stats.TapsAccepted),
		logger.Int("tapsRefused", stats.TapsRefused),
		logger.Int("batches", stats.Batches),
		logger.Int("popsConfirmed", stats.PopsConfirmed),
		logger.Uint64("scoreBefore", stats.ScoreBefore),
		logger.Uint64("scoreAfter", stats.ScoreAfter),
		logger.Duration("duration", stats.Duration),
		logger.Any("tapsPerSecond", tapsPerSecond))
}
