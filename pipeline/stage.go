package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/flamehaven01/rexsyn/id"
)

// Request is the input handed to every stage invocation.
type Request struct {
	JobID id.JobID

	// Input is the job's submission payload, JSON-encoded.
	Input []byte

	// Prior holds the completed payloads of earlier stages, keyed by
	// stage name. Stages read it to build on upstream results; they must
	// not mutate job state themselves.
	Prior map[string][]byte
}

// Func is a stage implementation. It returns the stage's result payload
// or an error. Funcs are treated as pure from the executor's point of
// view: any durable effect they need goes through their own clients, not
// the job store.
type Func func(ctx context.Context, req Request) ([]byte, error)

// Stage is one fixed step of a pipeline.
type Stage struct {
	// Name keys the stage's checkpoint records. Must be unique within a
	// pipeline and stable across releases.
	Name string

	// Estimate is the expected runtime, used for job ETA reporting.
	Estimate time.Duration

	// Gate, when non-nil, decides once at pipeline start whether the
	// stage participates in this run. Gated-out stages are invisible to
	// progress accounting.
	Gate func(input []byte) bool

	// Run executes the stage.
	Run Func
}

// Pipeline is a named, ordered list of stages known at construction
// time. There is no dynamic DAG: optional behavior is expressed through
// stage gates evaluated once per run.
type Pipeline struct {
	Name   string
	Stages []Stage
}

// Active resolves the stage list for a given input by evaluating every
// gate exactly once. The executor and progress accounting both work off
// this resolved list for the whole run.
func (p Pipeline) Active(input []byte) []Stage {
	active := make([]Stage, 0, len(p.Stages))
	for _, s := range p.Stages {
		if s.Gate != nil && !s.Gate(input) {
			continue
		}
		active = append(active, s)
	}
	return active
}

// Estimate sums the per-stage estimates over the stages active for the
// given input.
func (p Pipeline) Estimate(input []byte) time.Duration {
	var total time.Duration
	for _, s := range p.Active(input) {
		total += s.Estimate
	}
	return total
}

// Registry maps pipeline names to definitions. It is safe for
// concurrent use; register everything at startup.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

// Register adds or replaces a pipeline definition.
func (r *Registry) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name] = p
}

// Get returns the pipeline for the given name.
// Returns false if no pipeline is registered.
func (r *Registry) Get(name string) (Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	return p, ok
}

// Names returns all registered pipeline names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	return names
}
