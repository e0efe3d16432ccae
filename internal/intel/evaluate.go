// Package intel is the processing-action intelligence: it classifies each
// container's stages as fresh or stale against the dependency source
// registry and turns the classifications into a minimal, dependency-ordered
// action list executed on the worker pool.
package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/dag"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/pkg/core"
)

// Evaluator classifies stage freshness. It never mutates a container.
type Evaluator struct {
	graph  *dag.Graph
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over the standard pipeline graph.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{graph: dag.NewPipeline(), logger: logger}
}

// Graph exposes the stage dependency graph.
func (ev *Evaluator) Graph() *dag.Graph { return ev.graph }

// InputFingerprint hashes the content fingerprints of the active registry
// entries feeding one stage, order-independently. An empty entry set hashes
// to a stable constant so stages with no external inputs (conversion) stay
// fresh once complete.
func InputFingerprint(entries []registry.Entry) string {
	fps := make([]string, 0, len(entries))
	for _, e := range entries {
		fps = append(fps, e.Fingerprint)
	}
	sort.Strings(fps)

	h := sha256.New()
	for _, fp := range fps {
		h.Write([]byte(fp))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StageInputs groups the active entries matching a container by the stage
// their kind feeds directly.
func StageInputs(reg *registry.Registry, c *container.Container) map[core.Stage][]registry.Entry {
	matched := reg.Matching(c.SerialNumber, c.TimeRange())
	out := make(map[core.Stage][]registry.Entry)
	for _, e := range matched {
		for _, s := range core.StagesFor(e.Kind) {
			out[s] = append(out[s], e)
		}
	}
	return out
}

// Evaluate classifies every stage of a container. A stage is stale when its
// stored fingerprint differs from the current input fingerprint, missing
// when it never completed, and stale whenever any predecessor is not fresh
// (propagated staleness: dependents consume stage output, not just the raw
// registry entries). Pure: the container is not mutated.
func (ev *Evaluator) Evaluate(c *container.Container, reg *registry.Registry) map[core.Stage]core.Classification {
	inputs := StageInputs(reg, c)
	order, err := ev.graph.Sort()
	if err != nil {
		// The builtin pipeline is acyclic; a cycle here is a programming error.
		panic(err)
	}

	out := make(map[core.Stage]core.Classification, len(order))
	notFresh := make(map[string]bool)

	for _, id := range order {
		stage := core.Stage(id)
		rec := c.Stage(stage)
		want := InputFingerprint(inputs[stage])

		var class core.Classification
		switch {
		case rec.Fingerprint == "":
			class = core.ClassMissing
		case rec.Fingerprint != want:
			class = core.ClassStale
		case rec.Status == core.StageFailed:
			class = core.ClassStale
		default:
			class = core.ClassFresh
		}

		// Propagation: any non-fresh predecessor forces a re-run even when
		// this stage's own fingerprint is unchanged.
		if class == core.ClassFresh {
			for _, p := range ev.graph.Parents(id) {
				if notFresh[p] {
					class = core.ClassStale
					break
				}
			}
		}

		if class != core.ClassFresh {
			notFresh[id] = true
		}
		out[stage] = class
	}
	return out
}

// StaleStages returns the non-fresh stages of a container in dependency
// order, with the input fingerprint snapshot each re-run should record.
func (ev *Evaluator) StaleStages(c *container.Container, reg *registry.Registry) []Action {
	classes := ev.Evaluate(c, reg)
	inputs := StageInputs(reg, c)

	var out []Action
	for _, stage := range core.Pipeline() {
		if classes[stage] == core.ClassFresh {
			continue
		}
		out = append(out, Action{
			Container:   c.ID,
			Stage:       stage,
			Fingerprint: InputFingerprint(inputs[stage]),
			Status:      ActionPending,
		})
	}
	return out
}
