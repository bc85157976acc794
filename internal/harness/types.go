package harness

// EventStateCommit is the trace event type of a committed change.
const EventStateCommit = "state_commit"

// TraceEvent is one step or one committed change of a scenario run.
type TraceEvent struct {
	// Type is a step kind or EventStateCommit.
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`

	SQL  string           `json:"sql,omitempty"`
	Args []any            `json:"args,omitempty"`
	Rows []map[string]any `json:"rows,omitempty"`

	// Version is the version name of create_version and switch_version.
	Version string `json:"version,omitempty"`

	// Error is the step's error message, if it failed.
	Error string `json:"error,omitempty"`

	SchemaKey string `json:"schema_key,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	// Snapshot is the decoded snapshot of a committed change.
	Snapshot any  `json:"snapshot,omitempty"`
	Deleted  bool `json:"deleted,omitempty"`

	Seq int64 `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and committed changes in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Commits returns the state_commit events of the trace.
func (r *Result) Commits() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventStateCommit {
			out = append(out, ev)
		}
	}
	return out
}
