package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/lix/internal/engine"
	"github.com/roach88/lix/internal/ir"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/testutil"
)

// Harness executes one scenario against a fresh lix.
type Harness struct {
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
	sessions map[string]*engine.Session
	builtin  map[string]bool
	result   *Result
}

// Run executes a scenario with a discarding logger.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a deterministic lix in a temporary directory
//  2. Register the scenario's schemas
//  3. Run setup steps, failing on the first error
//  4. Run steps, checking each expect clause
//  5. Evaluate assertions against the trace and the final state
//
// A nil logger discards logs. Step and assertion failures are reported in
// Result.Errors; the returned error covers setup and infrastructure
// failures only.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = testutil.DiscardLogger()
	}

	docs, err := schema.ReadFiles(scenario.Schemas...)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	raws := make([][]byte, len(docs))
	for i, d := range docs {
		raws[i] = d.Raw
	}

	dir, err := os.MkdirTemp("", "lix-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	seed := scenario.Seed
	if seed == "" {
		seed = DefaultSeed
	}
	eng, err := engine.Open(ctx, filepath.Join(dir, "lix.db"),
		engine.WithLogger(logger),
		engine.WithDeterministic(seed),
		engine.WithSchemas(raws...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open lix: %w", err)
	}
	defer eng.Close()

	builtins, err := schema.Builtins()
	if err != nil {
		return nil, err
	}
	h := &Harness{
		engine:   eng,
		clock:    testutil.NewDeterministicClock(),
		logger:   logger,
		sessions: map[string]*engine.Session{},
		builtin:  make(map[string]bool, len(builtins)),
		result:   NewResult(),
	}
	for _, d := range builtins {
		h.builtin[d.Key] = true
	}
	defer h.closeSessions()

	unsubscribe := eng.OnStateCommit(h.recordCommit)
	defer unsubscribe()

	for i, step := range scenario.Setup {
		if _, err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Kind(), err)
		}
	}

	for i, step := range scenario.Steps {
		idx, err := h.runStep(ctx, step)
		if msg := checkExpect(step, err, h.result.Trace[idx]); msg != "" {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Kind(), msg))
		}
		h.logger.Info("step completed", "step", i, "kind", step.Kind(), "session", step.SessionName(), "error", err)
	}

	actx := &AssertionContext{Engine: eng, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// runStep performs step and records it in the trace. It returns the index
// of the step's trace event.
func (h *Harness) runStep(ctx context.Context, step Step) (int, error) {
	kind := step.Kind()
	ev := TraceEvent{Type: kind, Args: step.Args}
	switch kind {
	case StepExec, StepQuery, StepBegin, StepCommit, StepRollback:
		ev.Session = step.SessionName()
		ev.SQL = step.Exec + step.Query
	}
	idx := h.record(ev)

	if err := h.perform(ctx, kind, step, idx); err != nil {
		h.result.Trace[idx].Error = err.Error()
		return idx, err
	}
	return idx, nil
}

func (h *Harness) perform(ctx context.Context, kind string, step Step, idx int) error {
	switch kind {
	case StepCreateVersion:
		return h.createVersion(ctx, *step.CreateVersion, idx)
	case StepSwitchVersion:
		v, err := h.resolveVersion(ctx, step.SwitchVersion)
		if err != nil {
			return err
		}
		h.result.Trace[idx].Version = v.Name
		return h.engine.SwitchVersion(ctx, v.ID)
	case "":
		return fmt.Errorf("step must set exactly one operation")
	}

	s, err := h.session(ctx, step.SessionName())
	if err != nil {
		return err
	}
	switch kind {
	case StepExec:
		_, err = s.Exec(ctx, step.Exec, step.Args...)
		return err
	case StepQuery:
		rows, err := s.QueryRows(ctx, step.Query, step.Args...)
		if err != nil {
			return err
		}
		h.result.Trace[idx].Rows = normalizeRows(rows)
		return nil
	case StepBegin:
		return s.Begin(ctx)
	case StepCommit:
		return s.Commit(ctx)
	case StepRollback:
		return s.Rollback(ctx)
	}
	return fmt.Errorf("unknown step kind %q", kind)
}

func (h *Harness) createVersion(ctx context.Context, vs VersionStep, idx int) error {
	opts := engine.VersionOptions{ID: vs.ID, Name: vs.Name}
	if vs.From != "" {
		from, err := h.resolveVersion(ctx, vs.From)
		if err != nil {
			return err
		}
		opts.From = from.ID
	}
	if vs.InheritsFrom != "" {
		parent, err := h.resolveVersion(ctx, vs.InheritsFrom)
		if err != nil {
			return err
		}
		opts.InheritsFrom = parent.ID
	}
	v, err := h.engine.CreateVersion(ctx, opts)
	if err != nil {
		return err
	}
	h.result.Trace[idx].Version = v.Name
	return nil
}

// resolveVersion finds a version by id, then by name.
func (h *Harness) resolveVersion(ctx context.Context, ref string) (ir.Version, error) {
	versions, err := h.engine.Versions(ctx)
	if err != nil {
		return ir.Version{}, err
	}
	for _, v := range versions {
		if v.ID == ref {
			return v, nil
		}
	}
	for _, v := range versions {
		if v.Name == ref {
			return v, nil
		}
	}
	return ir.Version{}, fmt.Errorf("version %q not found", ref)
}

func (h *Harness) session(ctx context.Context, name string) (*engine.Session, error) {
	if s, ok := h.sessions[name]; ok {
		return s, nil
	}
	s, err := h.engine.Session(ctx)
	if err != nil {
		return nil, err
	}
	h.sessions[name] = s
	return s, nil
}

func (h *Harness) closeSessions() {
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			h.logger.Warn("close session", "session", name, "error", err)
		}
	}
}

func (h *Harness) record(ev TraceEvent) int {
	ev.Seq = h.clock.Next()
	h.result.Trace = append(h.result.Trace, ev)
	return len(h.result.Trace) - 1
}

// recordCommit appends the changes of non-builtin schemas, ordered by
// schema key and entity id.
func (h *Harness) recordCommit(ev engine.StateCommitEvent) {
	changes := make([]ir.CommittedChange, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		if !h.builtin[c.SchemaKey] {
			changes = append(changes, c)
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].SchemaKey != changes[j].SchemaKey {
			return changes[i].SchemaKey < changes[j].SchemaKey
		}
		return changes[i].EntityID < changes[j].EntityID
	})
	for _, c := range changes {
		te := TraceEvent{Type: EventStateCommit, SchemaKey: c.SchemaKey, EntityID: c.EntityID}
		if ir.IsNullSnapshot(c.Snapshot) {
			te.Deleted = true
		} else {
			snap, err := decodeJSON(c.Snapshot)
			if err != nil {
				h.logger.Warn("decode committed snapshot", "entity_id", c.EntityID, "error", err)
			}
			te.Snapshot = snap
		}
		h.record(te)
	}
}

// checkExpect returns a failure message, or "" when the step outcome
// matches its expect clause.
func checkExpect(step Step, err error, ev TraceEvent) string {
	e := step.Expect
	if e == nil {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
		return ""
	}
	if e.Error != "" {
		if err == nil {
			return fmt.Sprintf("expected error containing %q, step succeeded", e.Error)
		}
		if !strings.Contains(err.Error(), e.Error) {
			return fmt.Sprintf("expected error containing %q, got %v", e.Error, err)
		}
		return ""
	}
	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if e.Count != nil && len(ev.Rows) != *e.Count {
		return fmt.Sprintf("expected %d rows, got %d", *e.Count, len(ev.Rows))
	}
	if len(e.Rows) > 0 {
		if len(e.Rows) != len(ev.Rows) {
			return fmt.Sprintf("expected %d rows, got %d: %v", len(e.Rows), len(ev.Rows), ev.Rows)
		}
		for i, want := range e.Rows {
			if msg := matchRow(ev.Rows[i], want, stateValuesEqual); msg != "" {
				return fmt.Sprintf("row %d: %s", i, msg)
			}
		}
	}
	return ""
}

func normalizeRows(rows []engine.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			m[k] = normalizeValue(v)
		}
		out[i] = m
	}
	return out
}

// normalizeValue maps driver values onto JSON-representable ones.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
