package sandbox

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

// Capabilities is everything a script may reach. The session is bound for
// the lifetime of one execution.
type Capabilities struct {
	Context context.Context
	Session interfaces.DataSession
	Logger  arbor.ILogger
}

// Namespace returns the predeclared names scripts run against. Nothing else
// is reachable from script code.
func (c *Capabilities) Namespace() starlark.StringDict {
	return starlark.StringDict{
		"go":           graphObjects(),
		"px":           express(),
		"np":           numeric(),
		"math":         starmath.Module,
		"time":         startime.Module,
		"json":         starjson.Module,
		"fetch_series": starlark.NewBuiltin("fetch_series", c.fetchSeries),
		"fetch_many":   starlark.NewBuiltin("fetch_many", c.fetchMany),
		"apply_theme":  starlark.NewBuiltin("apply_theme", applyTheme),
	}
}

func (c *Capabilities) fetchSeries(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var code, start, end, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "code", &code, "start?", &start, "end?", &end, "name?", &name); err != nil {
		return nil, err
	}
	s, err := c.fetch(code, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if name != "" {
		s.name = name
	}
	return s, nil
}

func (c *Capabilities) fetchMany(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var codes *starlark.List
	var start, end string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "codes", &codes, "start?", &start, "end?", &end); err != nil {
		return nil, err
	}
	out := starlark.NewDict(codes.Len())
	for i := 0; i < codes.Len(); i++ {
		code, ok := starlark.AsString(codes.Index(i))
		if !ok {
			return nil, fmt.Errorf("%s: codes must be strings, got %s", b.Name(), codes.Index(i).Type())
		}
		s, err := c.fetch(code, start, end)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		if err := out.SetKey(starlark.String(code), s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Capabilities) fetch(code, start, end string) (*Series, error) {
	if c.Session == nil {
		return nil, interfaces.ErrSessionClosed
	}
	from, err := parseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(end)
	if err != nil {
		return nil, err
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	series, err := c.Session.FetchSeries(ctx, models.SeriesQuery{Code: code, Start: from, End: to})
	if err != nil {
		return nil, err
	}
	if c.Logger != nil {
		c.Logger.Debug().
			Str("code", code).
			Int("points", len(series.Points)).
			Msg("Script fetched series")
	}
	return seriesFromModel(series), nil
}

// applyTheme returns a new figure styled for the given mode. Trace data is
// carried over untouched.
func applyTheme(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fig starlark.Value
	mode := string(theme.Default)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fig", &fig, "mode?", &mode); err != nil {
		return nil, err
	}
	tree, ok := figureValue(fig)
	if !ok {
		return nil, fmt.Errorf("%s: expected a Figure, got %s", b.Name(), fig.Type())
	}
	themed := theme.Apply(tree, theme.ParseMode(mode))
	out := &Figure{layout: map[string]any{}}
	out.data, _ = themed["data"].([]any)
	if layout, ok := themed["layout"].(map[string]any); ok {
		out.layout = layout
	}
	if out.data == nil {
		out.data = []any{}
	}
	return out, nil
}
