package credits

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ExpiryScheduler runs the certification expiry sweep on a cron schedule.
type ExpiryScheduler struct {
	cron    *cron.Cron
	svc     *Service
	timeout time.Duration
}

// NewExpiryScheduler parses spec (standard 5-field cron or descriptors such as "@every 1h").
func NewExpiryScheduler(svc *Service, spec string) (*ExpiryScheduler, error) {
	s := &ExpiryScheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:     svc,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ExpiryScheduler) Start() {
	log.Info().Msg("certification expiry sweep scheduled")
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *ExpiryScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ExpiryScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.svc.ExpireCertifications(ctx)
	if err != nil {
		log.Error().Err(err).Msg("certification expiry sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("listings expired")
	}
}
