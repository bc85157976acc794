package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSession names the session of steps without one.
const DefaultSession = "default"

// DefaultSeed seeds scenarios without a seed.
const DefaultSeed = "harness"

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schemas lists schema files or directories to register.
	Schemas []string `yaml:"schemas,omitempty"`

	// Seed drives deterministic ids and timestamps. Default: DefaultSeed.
	Seed string `yaml:"seed,omitempty"`

	// Setup steps run before the main steps and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps are the scenario under test.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step performs one operation on a session.
type Step struct {
	// Session names the session the step runs on.
	Session string `yaml:"session,omitempty"`

	Exec  string `yaml:"exec,omitempty"`
	Query string `yaml:"query,omitempty"`
	// Args are bound to the placeholders of Exec or Query.
	Args []any `yaml:"args,omitempty"`

	Begin    bool `yaml:"begin,omitempty"`
	Commit   bool `yaml:"commit,omitempty"`
	Rollback bool `yaml:"rollback,omitempty"`

	CreateVersion *VersionStep `yaml:"create_version,omitempty"`
	SwitchVersion string       `yaml:"switch_version,omitempty"`

	// Expect validates the step outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// VersionStep creates a version. From and InheritsFrom accept ids or names.
type VersionStep struct {
	ID           string `yaml:"id,omitempty"`
	Name         string `yaml:"name,omitempty"`
	From         string `yaml:"from,omitempty"`
	InheritsFrom string `yaml:"inherits_from,omitempty"`
}

// Expect specifies the expected step outcome.
type Expect struct {
	// Rows are matched in order against the query result, which must
	// have as many rows. Each expected row is a subset of the actual row.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Count is the exact number of rows a query returns.
	Count *int `yaml:"count,omitempty"`

	// Error is a substring of the error the step must fail with.
	Error string `yaml:"error,omitempty"`
}

// Step kinds, also used as trace event types.
const (
	StepExec          = "exec"
	StepQuery         = "query"
	StepBegin         = "begin"
	StepCommit        = "commit"
	StepRollback      = "rollback"
	StepCreateVersion = "create_version"
	StepSwitchVersion = "switch_version"
)

// Kinds returns the operations the step sets.
func (s Step) Kinds() []string {
	var kinds []string
	if s.Exec != "" {
		kinds = append(kinds, StepExec)
	}
	if s.Query != "" {
		kinds = append(kinds, StepQuery)
	}
	if s.Begin {
		kinds = append(kinds, StepBegin)
	}
	if s.Commit {
		kinds = append(kinds, StepCommit)
	}
	if s.Rollback {
		kinds = append(kinds, StepRollback)
	}
	if s.CreateVersion != nil {
		kinds = append(kinds, StepCreateVersion)
	}
	if s.SwitchVersion != "" {
		kinds = append(kinds, StepSwitchVersion)
	}
	return kinds
}

// Kind returns the step's single operation, or "" when it sets none or
// several.
func (s Step) Kind() string {
	kinds := s.Kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// SessionName returns the session the step runs on.
func (s Step) SessionName() string {
	if s.Session == "" {
		return DefaultSession
	}
	return s.Session
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Table is the view or table queried by state and row_count.
	Table string `yaml:"table,omitempty"`

	// Where filters rows by column equality (state, row_count).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected values: row columns for state, snapshot
	// properties for commit_contains. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// SchemaKey selects committed changes (commit_contains, commit_count).
	SchemaKey string `yaml:"schema_key,omitempty"`

	// EntityID selects a committed change (commit_contains).
	EntityID string `yaml:"entity_id,omitempty"`

	// Deleted requires the matched change to be a deletion (commit_contains).
	Deleted bool `yaml:"deleted,omitempty"`

	// Count is the expected number of rows or committed changes.
	Count int `yaml:"count,omitempty"`

	// Entities is the expected commit order of entity ids (commit_order).
	Entities []string `yaml:"entities,omitempty"`
}

// Assertion type constants.
const (
	AssertState          = "state"
	AssertRowCount       = "row_count"
	AssertCommitContains = "commit_contains"
	AssertCommitCount    = "commit_count"
	AssertCommitOrder    = "commit_order"
)

// LoadScenario reads and parses a scenario YAML file. Schema paths are
// resolved relative to the file. Unknown fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving schema paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Schemas {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Schemas[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, p := range s.Schemas {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", p)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep("setup", i, step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep("steps", i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(section string, index int, step Step) error {
	kinds := step.Kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("%s[%d]: one of exec, query, begin, commit, rollback, create_version, switch_version is required", section, index)
	case 1:
	default:
		return fmt.Errorf("%s[%d]: step sets several operations %v", section, index, kinds)
	}
	kind := kinds[0]
	if len(step.Args) > 0 && kind != StepExec && kind != StepQuery {
		return fmt.Errorf("%s[%d]: args require exec or query", section, index)
	}
	if e := step.Expect; e != nil {
		if (len(e.Rows) > 0 || e.Count != nil) && kind != StepQuery {
			return fmt.Errorf("%s[%d].expect: rows and count require query", section, index)
		}
		if e.Count != nil && *e.Count < 0 {
			return fmt.Errorf("%s[%d].expect: count must be non-negative", section, index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertCommitContains:
		if a.SchemaKey == "" {
			return fmt.Errorf("assertions[%d]: schema_key is required for commit_contains", index)
		}
	case AssertCommitCount:
		if a.SchemaKey == "" {
			return fmt.Errorf("assertions[%d]: schema_key is required for commit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for commit_count", index)
		}
	case AssertCommitOrder:
		if len(a.Entities) == 0 {
			return fmt.Errorf("assertions[%d]: entities list is required for commit_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
