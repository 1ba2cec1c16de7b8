package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/fixture"
)

const defaultSaveTimeout = 10 * time.Second

// Recorder persists every finished run. It is safe to share between
// runners on different goroutines.
type Recorder struct {
	fixture.NopObserver
	repo      RunRepository
	serverURL string
	timeout   time.Duration
	logger    zerolog.Logger

	mu   sync.Mutex
	errs []error
}

func NewRecorder(repo RunRepository, serverURL string, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, serverURL: serverURL, timeout: defaultSaveTimeout, logger: logger}
}

func (r *Recorder) RunFinished(s fixture.Summary) {
	run, err := FromSummary(s, r.serverURL)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err = r.repo.SaveRun(ctx, run)
		cancel()
	}
	if err != nil {
		r.logger.Error().Err(err).Str("run_id", s.RunID).Msg("failed to record fixture run")
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		return
	}
	r.logger.Debug().Str("run_id", s.RunID).Int("steps", len(run.Steps)).Msg("fixture run recorded")
}

// Err joins every save failure so far.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
