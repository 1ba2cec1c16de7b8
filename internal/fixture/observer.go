package fixture

import "time"

// RunInfo identifies a run to observers.
type RunInfo struct {
	RunID        string
	Name         string
	ResourceType string
	StartedAt    time.Time
	Steps        int
}

// Observer receives run progress. Calls happen synchronously on the
// runner's goroutine, in step order.
type Observer interface {
	RunStarted(info RunInfo)
	StepStarted(info RunInfo, index int, name string)
	StepFinished(info RunInfo, outcome StepOutcome)
	RunFinished(summary Summary)
}

// NopObserver can be embedded to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) {}
func (NopObserver) StepStarted(RunInfo, int, string) {}
func (NopObserver) StepFinished(RunInfo, StepOutcome) {}
func (NopObserver) RunFinished(Summary) {}
