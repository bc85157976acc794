// Package preprocess turns application SQL into SQL the embedded engine
// can run: entity view writes become writes of the virtual state relation,
// view reads are expanded, and every use of the relation is rewritten
// against the physical state tables.
package preprocess

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/lix/internal/entityview"
	"github.com/roach88/lix/internal/queryir"
	"github.com/roach88/lix/internal/querysql"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/shape"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlcompile"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/vtable"
)

// Trace step names.
const (
	StepParse           = "parse"
	StepEntityViewWrite = "entityview_write"
	StepExpandViews     = "expand_views"
	StepVtableWrite     = "vtable_write"
	StepVtableRead      = "vtable_read"
	StepCompile         = "compile"
	StepPlan            = "plan"
)

// Input is one preprocessing request.
type Input struct {
	SQL        string
	Parameters []any
	// Trace records every rewrite step in Output.Trace.
	Trace bool
	// Plan lowers every rewritten statement to a relational plan and
	// attaches it to its Statement.
	Plan bool
}

// Statement is one rewritten statement with the arguments it binds.
type Statement struct {
	SQL        string           `json:"sql"`
	Parameters []any            `json:"parameters"`
	AST        sqlast.Statement `json:"-"`
	Plan       *Plan            `json:"plan,omitempty"`
}

// Plan is the relational plan of a rewritten statement, compiled back to
// SQL with every literal bound as a parameter.
type Plan struct {
	// Root names the plan's top node, such as Project or Insert.
	Root       string   `json:"root,omitempty"`
	SQL        string   `json:"sql,omitempty"`
	Parameters []any    `json:"parameters,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	// Error is set when the statement could not be lowered or compiled.
	Error string `json:"error,omitempty"`
}

// Output is the rewritten script.
type Output struct {
	// SQL is every statement joined with ";\n".
	SQL        string       `json:"sql"`
	Parameters []any        `json:"parameters"`
	Statements []Statement  `json:"statements"`
	Trace      []TraceEntry `json:"trace,omitempty"`
}

// TraceEntry records one pipeline step of one statement.
type TraceEntry struct {
	Statement int    `json:"statement"`
	Step      string `json:"step"`
	Payload   any    `json:"payload"`
}

// Deps supplies the state the rewrite depends on.
type Deps struct {
	// Catalog resolves entity views. When nil it is built from
	// StoredSchemas.
	Catalog *entityview.Catalog

	StoredSchemas []*schema.Definition

	// CacheTables maps schema keys to cache tables.
	CacheTables map[string]string

	// SQLViews are additional named views expanded like entity views.
	SQLViews map[string]*sqlast.SelectStatement

	Logger *slog.Logger
}

// Preprocess parses in.SQL and rewrites each statement. Statements that
// touch nothing virtual come back unchanged; running Preprocess on its own
// output is a no-op.
func Preprocess(in Input, deps Deps) (Output, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := deps.Catalog
	if catalog == nil {
		c, err := entityview.NewCatalog(deps.StoredSchemas)
		if err != nil {
			return Output{}, fmt.Errorf("build views: %w", err)
		}
		catalog = c
	}
	views := catalog.SQLViews()
	for name, sel := range deps.SQLViews {
		views[name] = sel
	}

	stmts, err := sqlparser.Parse(in.SQL)
	if err != nil {
		return Output{}, err
	}

	p := &pipeline{
		in:      in,
		catalog: catalog,
		views:   views,
		opts:    vtable.Options{CacheTables: deps.CacheTables, IncludeTransaction: true},
	}
	out := Output{Parameters: in.Parameters}
	compiled := make([]sqlast.Statement, 0, len(stmts))
	next := 0
	for i, st := range stmts {
		count := sqlast.ParameterCount(st)
		if next+count > len(in.Parameters) && len(in.Parameters) > 0 {
			return Output{}, fmt.Errorf("statement %d binds %d parameters, %d left", i+1, count, len(in.Parameters)-next)
		}
		rewritten, err := p.statement(i, st)
		if err != nil {
			return Output{}, fmt.Errorf("statement %d: %w", i+1, err)
		}
		var args []any
		if len(in.Parameters) > 0 {
			args = in.Parameters[next : next+count]
		}
		next += count

		text := sqlcompile.CompileStatement(rewritten)
		p.trace(i, StepCompile, text)
		stmt := Statement{SQL: text, Parameters: args, AST: rewritten}
		if in.Plan {
			stmt.Plan = planOf(rewritten, args)
			p.trace(i, StepPlan, stmt.Plan)
		}
		out.Statements = append(out.Statements, stmt)
		compiled = append(compiled, rewritten)
	}
	out.SQL = sqlcompile.Compile(compiled)
	out.Trace = p.entries

	logger.Debug("preprocessed sql", "statements", len(stmts), "parameters", len(in.Parameters))
	return out, nil
}

type pipeline struct {
	in      Input
	catalog *entityview.Catalog
	views   map[string]*sqlast.SelectStatement
	opts    vtable.Options
	entries []TraceEntry
}

func (p *pipeline) trace(i int, step string, payload any) {
	if !p.in.Trace {
		return
	}
	p.entries = append(p.entries, TraceEntry{Statement: i, Step: step, Payload: payload})
}

func (p *pipeline) statement(i int, st sqlast.Statement) (sqlast.Statement, error) {
	if _, raw := st.(*sqlast.RawFragment); raw {
		p.trace(i, StepParse, map[string]any{"raw": true})
		return st, nil
	}
	st, _ = sqlast.NumberParameters(st)
	p.trace(i, StepParse, sqlcompile.CompileStatement(st))

	st, wrote, err := p.catalog.RewriteWrite(st)
	if err != nil {
		return nil, err
	}
	if wrote {
		p.trace(i, StepEntityViewWrite, sqlcompile.CompileStatement(st))
	}

	st, expanded, err := entityview.Expand(st, p.views)
	if err != nil {
		return nil, err
	}
	if expanded {
		p.trace(i, StepExpandViews, sqlcompile.CompileStatement(st))
	}

	if vtable.IsWrite(st) {
		var report *vtable.Report
		st, report, err = vtable.RewriteWrite(st, p.opts)
		if err != nil {
			return nil, err
		}
		p.trace(i, StepVtableWrite, traceRewrite(st, report))
	}

	st, report, err := vtable.Rewrite(st, p.opts)
	if err != nil {
		return nil, err
	}
	if report != nil {
		p.trace(i, StepVtableRead, traceRewrite(st, report))
	}

	if shape.References(st) {
		return nil, &shape.UnsupportedShapeError{Reason: "reference to " + shape.VtableName + " could not be rewritten"}
	}
	return st, nil
}

func traceRewrite(st sqlast.Statement, report *vtable.Report) map[string]any {
	return map[string]any{"sql": sqlcompile.CompileStatement(st), "report": report}
}

// planOf lowers st and compiles the plan with args bound positionally.
// Failures are reported on the Plan, never as an error: the rewritten SQL
// is runnable either way.
func planOf(st sqlast.Statement, args []any) *Plan {
	plan, err := queryir.ToPlan(st)
	if err != nil {
		return &Plan{Error: err.Error()}
	}
	out := &Plan{Root: strings.TrimPrefix(fmt.Sprintf("%T", plan), "*queryir.")}
	if res := queryir.Validate(plan); !res.IsValid {
		out.Warnings = res.Warnings
	}
	compiler := querysql.NewSQLCompiler()
	compiler.BoundValues = querysql.BindPositional(args)
	text, params, err := compiler.Compile(plan)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.SQL, out.Parameters = text, params
	return out
}
