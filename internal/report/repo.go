package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/fhircheck/internal/fixture"
)

// Run is one persisted fixture run.
type Run struct {
	ID           uuid.UUID `db:"id"`
	Name         string    `db:"name"`
	ResourceType string    `db:"resource_type"`
	ServerURL    string    `db:"server_url"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
	Passed       int       `db:"passed"`
	Failed       int       `db:"failed"`
	Skipped      int       `db:"skipped"`
	Steps        []Step    `db:"-"`
}

// Step is one persisted step outcome.
type Step struct {
	Index     int    `db:"step_index"`
	Name      string `db:"name"`
	Outcome   string `db:"outcome"`
	Method    string `db:"method"`
	URL       string `db:"url"`
	Status    int    `db:"status"`
	Expected  string `db:"expected"`
	ElapsedMS int64  `db:"elapsed_ms"`
	Error     string `db:"error"`
}

type RunRepository interface {
	SaveRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
}

// FromSummary converts a runner summary into its stored form.
func FromSummary(s fixture.Summary, serverURL string) (*Run, error) {
	id, err := uuid.Parse(s.RunID)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:           id,
		Name:         s.Name,
		ResourceType: s.ResourceType,
		ServerURL:    serverURL,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Passed:       s.Passed,
		Failed:       s.Failed,
		Skipped:      s.Skipped,
		Steps:        make([]Step, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		st := Step{
			Index:     o.Index,
			Name:      o.Name,
			Outcome:   string(o.Outcome),
			Status:    o.StatusCode(),
			Expected:  o.Expected.String(),
			ElapsedMS: o.Elapsed.Milliseconds(),
		}
		if o.Result != nil {
			st.Method = o.Result.Method
			st.URL = o.Result.URL
		}
		if o.Err != nil {
			st.Error = o.Err.Error()
		}
		run.Steps = append(run.Steps, st)
	}
	return run, nil
}
