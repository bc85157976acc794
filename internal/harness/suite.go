package harness

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioNotFoundError is returned when a scenario path does not exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios returns the *.yaml and *.yml files under path in lexical
// order. A file path is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Results        []ScenarioOutcome `json:"results"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Result is nil when the scenario failed to load or set up.
	Result *Result `json:"-"`
}

// RunSuite loads and runs every scenario under path. Load and setup
// failures count as failed scenarios.
func RunSuite(ctx context.Context, path string, logger *slog.Logger) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	return RunFiles(ctx, files, logger), nil
}

// RunFiles runs the given scenario files in order.
func RunFiles(ctx context.Context, files []string, logger *slog.Logger) *SuiteResult {
	suite := &SuiteResult{Results: []ScenarioOutcome{}}
	for _, file := range files {
		suite.TotalScenarios++
		outcome := ScenarioOutcome{Path: file}

		scenario, err := LoadScenario(file)
		if err != nil {
			outcome.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
			suite.add(outcome)
			continue
		}
		outcome.Name = scenario.Name

		result, err := RunContext(ctx, scenario, logger)
		if err != nil {
			outcome.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
			suite.add(outcome)
			continue
		}
		outcome.Result = result
		outcome.Pass = result.Pass
		outcome.Errors = result.Errors
		suite.add(outcome)
	}
	return suite
}

func (s *SuiteResult) add(o ScenarioOutcome) {
	if o.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
	s.Results = append(s.Results, o)
}
