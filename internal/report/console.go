// Package report renders fixture runs to the log and persists them to
// Postgres.
package report

import (
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/fixture"
)

const maxBodyLen = 512

// Console writes one log event per step and one per run.
type Console struct {
	fixture.NopObserver
	logger zerolog.Logger
	// Verbose adds the pretty-printed body of failed steps.
	Verbose bool
}

func NewConsole(logger zerolog.Logger, verbose bool) *Console {
	return &Console{logger: logger, Verbose: verbose}
}

func (c *Console) RunStarted(info fixture.RunInfo) {
	c.logger.Info().
		Str("run_id", info.RunID).
		Str("fixture", info.Name).
		Str("resource_type", info.ResourceType).
		Int("steps", info.Steps).
		Msg("fixture started")
}

func (c *Console) StepFinished(info fixture.RunInfo, out fixture.StepOutcome) {
	var ev *zerolog.Event
	switch out.Outcome {
	case fixture.OutcomeFailed:
		ev = c.logger.Error()
	case fixture.OutcomeSkipped:
		ev = c.logger.Warn()
	default:
		ev = c.logger.Info()
	}

	ev = ev.Str("fixture", info.Name).
		Int("step", out.Index+1).
		Str("outcome", string(out.Outcome))

	if r := out.Result; r != nil {
		ev = ev.Str("method", r.Method).
			Str("endpoint", r.URL).
			Int("status", r.StatusCode).
			Str("expected", out.Expected.String()).
			Int64("elapsed_ms", r.ElapsedMillis())
		if rt := r.ResourceType(); rt != "" {
			ev = ev.Str("resource", rt)
		}
		if id := r.ID(); id != "" {
			ev = ev.Str("id", id)
		}
		if v := r.VersionID(); v != "" {
			ev = ev.Str("version", v)
		}
		if c.Verbose && out.Outcome == fixture.OutcomeFailed && r.IsJSON() {
			ev = ev.Str("body", truncate(r.Pretty(), maxBodyLen))
		}
	}
	if out.Err != nil {
		ev = ev.Err(out.Err)
	}
	ev.Msg(out.Name)
}

func (c *Console) RunFinished(s fixture.Summary) {
	ev := c.logger.Info()
	if !s.OK() {
		ev = c.logger.Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("fixture", s.Name).
		Int("passed", s.Passed).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("total", s.Total()).
		Dur("duration", s.Duration()).
		Msg("fixture finished")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
