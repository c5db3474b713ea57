// Package sandbox runs user chart scripts against a fixed capability set and
// extracts the figure they build.
//
// Scripts are written in Starlark, a deterministic Python dialect. Python
// import lines are blanked before compilation so snippets that start with
// "import plotly.graph_objects as go" run unchanged against the predeclared
// go, px and np modules.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/HTF1125/investment-x-sub000/internal/figure"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

const (
	// ResultName is the global a script binds its figure to.
	ResultName = "fig"

	DefaultTimeout  = 30 * time.Second
	DefaultFilename = "chart.star"
)

// Config bounds a single execution.
type Config struct {
	Timeout  time.Duration
	MaxSteps uint64
	Filename string
}

// Result is a successfully extracted, normalized and themed figure.
type Result struct {
	Figure   map[string]any
	JSON     json.RawMessage
	Binding  string
	Duration time.Duration
	Queries  int
	Output   []string
}

// Executor executes chart scripts. It is safe for concurrent use; every
// call gets its own thread and data session.
type Executor struct {
	data   interfaces.DataService
	logger arbor.ILogger
	config Config
}

// NewExecutor creates an executor backed by the given data service
func NewExecutor(data interfaces.DataService, logger arbor.ILogger, config Config) *Executor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Filename == "" {
		config.Filename = DefaultFilename
	}
	return &Executor{data: data, logger: logger, config: config}
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Execute runs source and returns the figure it produced. Every failure is
// an *ExecutionError. Exactly one data session is opened and closed per
// call, whatever the outcome.
func (e *Executor) Execute(ctx context.Context, source string) (*Result, error) {
	if strings.TrimSpace(source) == "" {
		return nil, newError(CodeEmptySource, nil, "source is empty")
	}

	started := time.Now()

	session, err := e.data.OpenSession(ctx)
	if err != nil {
		return nil, newError(CodeSession, err, "failed to open data session: %v", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("Failed to close data session")
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var output []string
	thread := &starlark.Thread{
		Name: "chart",
		Print: func(_ *starlark.Thread, msg string) {
			output = append(output, msg)
		},
	}
	if e.config.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.config.MaxSteps)
	}
	stop := context.AfterFunc(execCtx, func() {
		thread.Cancel(execCtx.Err().Error())
	})
	defer stop()

	caps := &Capabilities{Context: execCtx, Session: session, Logger: e.logger}
	predeclared := caps.Namespace()

	file, prog, err := starlark.SourceProgramOptions(fileOptions, e.config.Filename, stripImports(source), predeclared.Has)
	if err != nil {
		return nil, &ExecutionError{
			Code:    CodeSyntax,
			Message: firstLine(err.Error()),
			Trace:   err.Error(),
			Cause:   err,
		}
	}

	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return nil, e.classify(ctx, execCtx, thread, err)
	}

	binding, tree, execErr := extract(file, globals)
	if execErr != nil {
		return nil, execErr
	}

	normalized := figure.NormalizeMap(tree, figure.WithLogger(e.logger))
	themed := theme.Apply(normalized, theme.Default)
	data, err := json.Marshal(themed)
	if err != nil {
		return nil, newError(CodeEncode, err, "failed to encode figure: %v", err)
	}

	result := &Result{
		Figure:   themed,
		JSON:     data,
		Binding:  binding,
		Duration: time.Since(started),
		Queries:  session.Queries(),
		Output:   output,
	}

	e.logger.Debug().
		Str("binding", binding).
		Int("queries", result.Queries).
		Str("duration", result.Duration.String()).
		Msg("Chart script executed")

	return result, nil
}

func (e *Executor) classify(parent, execCtx context.Context, thread *starlark.Thread, err error) *ExecutionError {
	var trace string
	msg := err.Error()

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		trace = evalErr.Backtrace()
		msg = evalErr.Msg
	}

	switch {
	case parent.Err() != nil:
		return &ExecutionError{Code: CodeCancelled, Message: "execution cancelled", Trace: trace, Cause: parent.Err()}
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return &ExecutionError{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("execution exceeded %s", e.config.Timeout),
			Trace:   trace,
			Cause:   execCtx.Err(),
		}
	case e.config.MaxSteps > 0 && thread.ExecutionSteps() >= e.config.MaxSteps:
		return &ExecutionError{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("execution exceeded %d steps", e.config.MaxSteps),
			Trace:   trace,
			Cause:   err,
		}
	}

	if errors.Is(err, interfaces.ErrSessionClosed) {
		return &ExecutionError{Code: CodeSession, Message: firstLine(msg), Trace: trace, Cause: err}
	}
	return &ExecutionError{Code: CodeRuntime, Message: firstLine(msg), Trace: trace, Cause: err}
}

// extract picks the result: the fig global when bound, otherwise the first
// Figure in top-level binding order.
func extract(file *syntax.File, globals starlark.StringDict) (string, map[string]any, *ExecutionError) {
	if v, ok := globals[ResultName]; ok {
		tree, ok := figureValue(v)
		if !ok {
			return "", nil, newError(CodeInvalidResult, nil, "%s is a %s, not a figure", ResultName, v.Type())
		}
		return ResultName, tree, nil
	}

	for _, name := range bindingOrder(file.Stmts) {
		if f, ok := globals[name].(*Figure); ok {
			return name, f.toMap(), nil
		}
	}
	return "", nil, ErrResultMissing
}

// bindingOrder lists top-level names in the order the source first binds them.
func bindingOrder(stmts []syntax.Stmt) []string {
	var names []string
	seen := map[string]bool{}
	add := func(id *syntax.Ident) {
		if !seen[id.Name] {
			seen[id.Name] = true
			names = append(names, id.Name)
		}
	}

	var walkTarget func(syntax.Expr)
	walkTarget = func(x syntax.Expr) {
		switch t := x.(type) {
		case *syntax.Ident:
			add(t)
		case *syntax.TupleExpr:
			for _, el := range t.List {
				walkTarget(el)
			}
		case *syntax.ListExpr:
			for _, el := range t.List {
				walkTarget(el)
			}
		case *syntax.ParenExpr:
			walkTarget(t.X)
		}
	}

	var walk func([]syntax.Stmt)
	walk = func(stmts []syntax.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *syntax.AssignStmt:
				walkTarget(s.LHS)
			case *syntax.ForStmt:
				walkTarget(s.Vars)
				walk(s.Body)
			case *syntax.WhileStmt:
				walk(s.Body)
			case *syntax.IfStmt:
				walk(s.True)
				walk(s.False)
			}
		}
	}
	walk(stmts)
	return names
}

var importLine = regexp.MustCompile(`^\s*(import\s+\S|from\s+\S+\s+import\s)`)

// stripImports blanks Python import statements, keeping line numbers stable
// for error positions. Parenthesized multi-line imports are blanked whole.
func stripImports(source string) string {
	lines := strings.Split(source, "\n")
	open := false
	for i, line := range lines {
		if open {
			if strings.Contains(line, ")") {
				open = false
			}
			lines[i] = ""
			continue
		}
		if !importLine.MatchString(line) {
			continue
		}
		if strings.Contains(line, "(") && !strings.Contains(line, ")") {
			open = true
		}
		lines[i] = ""
	}
	return strings.Join(lines, "\n")
}
