package health

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"quiz-sync/internal/logging"
)

// Prompter shows and hides the "connection lost" prompt.
type Prompter interface {
	Show()
	Dismiss()
}

// RecoveryGate raises at most one prompt per outage. An outage starts with
// the first Unavailable status and ends with the next Available one.
type RecoveryGate struct {
	prompter Prompter
	log      *zap.Logger

	mu      sync.Mutex
	outage  bool
	visible bool
}

func NewRecoveryGate(prompter Prompter, log *zap.Logger) *RecoveryGate {
	return &RecoveryGate{prompter: prompter, log: logging.OrNop(log).Named("recovery")}
}

// Run feeds statuses into Apply until the stream closes or ctx ends.
func (g *RecoveryGate) Run(ctx context.Context, statuses <-chan Status) error {
	for {
		select {
		case s, ok := <-statuses:
			if !ok {
				return nil
			}
			g.Apply(s)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *RecoveryGate) Apply(s Status) {
	g.mu.Lock()
	var show, dismiss bool
	switch s {
	case StatusUnavailable:
		if !g.outage {
			g.outage = true
			g.visible = true
			show = true
		}
	case StatusAvailable:
		if g.outage {
			g.outage = false
			dismiss = g.visible
			g.visible = false
		}
	}
	g.mu.Unlock()

	switch {
	case show:
		g.log.Info("connection lost, prompting")
		g.prompter.Show()
	case dismiss:
		g.log.Info("connection recovered")
		g.prompter.Dismiss()
	}
}

// Resolved records that the prompt was closed by its own means. The outage
// continues; no new prompt is raised until the server has been available again.
func (g *RecoveryGate) Resolved() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.visible = false
}

// Prompting reports whether the prompt is currently shown.
func (g *RecoveryGate) Prompting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visible
}
