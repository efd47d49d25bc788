package httpserver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tinypaste/internal/metrics"
)

// Counter reports how many pastes are stored.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// StartStatsReporter refreshes the stored-pastes gauge in the background,
// once at start and then every interval until ctx is done. It never blocks
// the caller on the backend.
func StartStatsReporter(ctx context.Context, src Counter, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		reportOnce(ctx, src, logger)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportOnce(ctx, src, logger)
			}
		}
	}()
}

func reportOnce(ctx context.Context, src Counter, logger zerolog.Logger) {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := src.Count(c)
	if err != nil {
		logger.Error().Err(err).Msg("stats reporter error")
		return
	}
	metrics.PastesStored.Set(float64(n))
	logger.Debug().Int("pastes", n).Msg("stats reported")
}
