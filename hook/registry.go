// Package hook provides the staged, priority ordered callback registry that
// lets modules run code around a spawn.
//
// Three calling conventions exist, selected by the stage: server stages
// receive the daemon content, spawn stages receive the daemon content and the
// spawning context, process change stages receive the daemon content and the
// spawned process record.
package hook

import (
	"log/slog"
	"sort"
	"time"

	"github.com/criyle/go-appspawn/types"
)

// ServerFunc is called at server stages
type ServerFunc[M any] func(m M) error

// SpawnFunc is called at parent and child spawn stages
type SpawnFunc[M, C any] func(m M, c C) error

// ProcessFunc is called when a spawned process is added or died
type ProcessFunc[M, P any] func(m M, p P) error

// Options controls a spawn stage execution
type Options struct {
	StopOnError bool
}

// StopOnError aborts the remaining hooks of a stage on the first failure
var StopOnError = Options{StopOnError: true}

// StageStats accumulates the latency of a stage
type StageStats struct {
	Runs  int
	Total time.Duration
	Last  time.Duration
}

type entry[M, C, P any] struct {
	stage   Stage
	prio    int
	name    string
	server  ServerFunc[M]
	spawn   SpawnFunc[M, C]
	process ProcessFunc[M, P]
}

// Registry stores hooks per stage ordered by priority. It is not safe for
// concurrent use, the daemon mutates and executes it from its event loop.
type Registry[M, C, P any] struct {
	logger *slog.Logger
	stages map[Stage][]*entry[M, C, P]
	stats  map[Stage]*StageStats
}

// New creates an empty registry
func New[M, C, P any](logger *slog.Logger) *Registry[M, C, P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[M, C, P]{
		logger: logger,
		stages: make(map[Stage][]*entry[M, C, P]),
		stats:  make(map[Stage]*StageStats),
	}
}

// SetLogger replaces the logger used for instrumentation
func (r *Registry[M, C, P]) SetLogger(l *slog.Logger) {
	r.logger = l
}

// AddServer registers f at a server stage
func (r *Registry[M, C, P]) AddServer(stage Stage, prio int, name string, f ServerFunc[M]) error {
	if !stage.IsServer() || f == nil {
		return types.Errorf(types.ArgInvalid, "hook: invalid server hook %s at %v", name, stage)
	}
	r.insert(&entry[M, C, P]{stage: stage, prio: prio, name: name, server: f})
	return nil
}

// AddSpawn registers f at a parent or child spawn stage
func (r *Registry[M, C, P]) AddSpawn(stage Stage, prio int, name string, f SpawnFunc[M, C]) error {
	if !stage.IsSpawn() || f == nil {
		return types.Errorf(types.ArgInvalid, "hook: invalid spawn hook %s at %v", name, stage)
	}
	r.insert(&entry[M, C, P]{stage: stage, prio: prio, name: name, spawn: f})
	return nil
}

// AddProcess registers f at a process change stage
func (r *Registry[M, C, P]) AddProcess(stage Stage, prio int, name string, f ProcessFunc[M, P]) error {
	if !stage.IsProcess() || f == nil {
		return types.Errorf(types.ArgInvalid, "hook: invalid process hook %s at %v", name, stage)
	}
	r.insert(&entry[M, C, P]{stage: stage, prio: prio, name: name, process: f})
	return nil
}

func (r *Registry[M, C, P]) insert(e *entry[M, C, P]) {
	l := r.stages[e.stage]
	i := sort.Search(len(l), func(i int) bool { return l[i].prio > e.prio })
	l = append(l, nil)
	copy(l[i+1:], l[i:])
	l[i] = e
	r.stages[e.stage] = l
}

// Count returns the number of hooks registered at stage
func (r *Registry[M, C, P]) Count(stage Stage) int {
	return len(r.stages[stage])
}

// Names returns the registered hook names of stage in execution order
func (r *Registry[M, C, P]) Names(stage Stage) []string {
	var names []string
	for _, e := range r.stages[stage] {
		names = append(names, e.name)
	}
	return names
}

// Stats returns a copy of the per stage latency statistics
func (r *Registry[M, C, P]) Stats() map[Stage]StageStats {
	ret := make(map[Stage]StageStats, len(r.stats))
	for s, st := range r.stats {
		ret[s] = *st
	}
	return ret
}

// ExecuteServer runs the hooks of a server stage, stopping at the first
// failure
func (r *Registry[M, C, P]) ExecuteServer(stage Stage, m M) error {
	if !stage.IsServer() {
		return types.Errorf(types.ArgInvalid, "hook: %v is not a server stage", stage)
	}
	return r.run(stage, true, func(e *entry[M, C, P]) error { return e.server(m) })
}

// ExecuteSpawn runs the hooks of a spawn stage
func (r *Registry[M, C, P]) ExecuteSpawn(stage Stage, opt Options, m M, c C) error {
	if !stage.IsSpawn() {
		return types.Errorf(types.ArgInvalid, "hook: %v is not a spawn stage", stage)
	}
	return r.run(stage, opt.StopOnError, func(e *entry[M, C, P]) error { return e.spawn(m, c) })
}

// ExecuteProcess runs every hook of a process change stage and returns the
// first failure
func (r *Registry[M, C, P]) ExecuteProcess(stage Stage, m M, p P) error {
	if !stage.IsProcess() {
		return types.Errorf(types.ArgInvalid, "hook: %v is not a process stage", stage)
	}
	return r.run(stage, false, func(e *entry[M, C, P]) error { return e.process(m, p) })
}

func (r *Registry[M, C, P]) run(stage Stage, stop bool, call func(e *entry[M, C, P]) error) error {
	hooks := r.stages[stage]
	if len(hooks) == 0 {
		return nil
	}
	var first error
	stageStart := time.Now()
	for _, e := range hooks {
		start := time.Now()
		err := call(e)
		r.logger.Debug("hook executed", "stage", stage, "prio", e.prio, "name", e.name,
			"duration", time.Since(start), "error", err)
		if err != nil {
			if first == nil {
				first = err
			}
			if stop {
				break
			}
		}
	}
	st := r.stats[stage]
	if st == nil {
		st = new(StageStats)
		r.stats[stage] = st
	}
	st.Runs++
	st.Last = time.Since(stageStart)
	st.Total += st.Last
	return first
}
