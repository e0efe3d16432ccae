package intel

import (
	"fmt"
	"sort"
	"time"

	"github.com/coastwise/swath/pkg/core"
)

// ActionStatus is the lifecycle state of a scheduled action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionRunning  ActionStatus = "running"
	ActionComplete ActionStatus = "complete"
	ActionFailed   ActionStatus = "failed"
	// ActionSkipped means a predecessor action for the same container
	// failed; the stage stays stale and is reported, not executed.
	ActionSkipped ActionStatus = "skipped"
)

// Action is one stage-level unit of work for one container. Actions are
// transient: they exist from scheduling through execution and are then
// folded into a report.
type Action struct {
	Container string
	Stage     core.Stage
	// Fingerprint is the input snapshot taken at scheduling time. The
	// action completes against this snapshot even if the registry changes
	// before execution; the evaluator re-marks the stage stale afterward.
	Fingerprint string
	Status      ActionStatus
	Error       string
}

// Key identifies the action for deduplication.
func (a Action) Key() string {
	return a.Container + "/" + string(a.Stage)
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s [%s]", a.Container, a.Stage, a.Status)
}

// Report collects per-action outcomes of one scheduler run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Actions    []Action
}

// Counts returns the number of actions per terminal status.
func (r *Report) Counts() (complete, failed, skipped int) {
	for _, a := range r.Actions {
		switch a.Status {
		case ActionComplete:
			complete++
		case ActionFailed:
			failed++
		case ActionSkipped:
			skipped++
		}
	}
	return
}

// Failed reports whether any action failed.
func (r *Report) Failed() bool {
	_, failed, _ := r.Counts()
	return failed > 0
}

// sortActions orders actions by container id, then pipeline position.
// This is the display and report order.
func sortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Container != actions[j].Container {
			return actions[i].Container < actions[j].Container
		}
		return core.StageIndex(actions[i].Stage) < core.StageIndex(actions[j].Stage)
	})
}
