package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lix/internal/ir"
)

// TraceSnapshot captures the trace of a scenario run for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to plain maps for
// ir.MarshalCanonical. Empty fields are left out.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type": event.Type,
			"seq":  event.Seq,
		}
		set := func(key, v string) {
			if v != "" {
				eventMap[key] = v
			}
		}
		set("session", event.Session)
		set("sql", event.SQL)
		set("version", event.Version)
		set("error", event.Error)
		set("schema_key", event.SchemaKey)
		set("entity_id", event.EntityID)
		if len(event.Args) > 0 {
			eventMap["args"] = event.Args
		}
		if len(event.Rows) > 0 {
			rows := make([]any, len(event.Rows))
			for j, r := range event.Rows {
				rows[j] = r
			}
			eventMap["rows"] = rows
		}
		if event.Snapshot != nil {
			eventMap["snapshot"] = event.Snapshot
		}
		if event.Deleted {
			eventMap["deleted"] = true
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace renders the result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	v, err := ir.FromGo(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
