package usecase

import (
	"context"
	"time"

	"marketchat/pkg/logger"
)

type offerExpirer interface {
	ExpireDueOffers(ctx context.Context) (int, error)
}

// OfferExpiryJob periodically expires pending offers whose deadline passed.
type OfferExpiryJob struct {
	offers   offerExpirer
	interval time.Duration
}

func NewOfferExpiryJob(offers *OfferUseCase, interval time.Duration) *OfferExpiryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OfferExpiryJob{offers: offers, interval: interval}
}

// RunOnce performs a single sweep.
func (j *OfferExpiryJob) RunOnce(ctx context.Context) {
	n, err := j.offers.ExpireDueOffers(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int("expired", n).Msg("offer expiry sweep failed")
	}
}

// Start sweeps every interval until ctx is cancelled. A failed sweep is
// retried on the next tick.
func (j *OfferExpiryJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Ctx(ctx).Info().Dur("interval", j.interval).Msg("offer expiry job started")
}
