package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

// ScriptExtractor runs a Starlark pipeline script from the project's
// pipelines directory. A script named after a core step replaces the
// built-in generator; any other script adds a step.
//
// The script must define:
//
//	def extract(ctx):
//	    return [{"id": 1, "name": "alpha"}, ...]
//
// ctx carries the run parameters as ctx.params (num_users, num_events,
// num_orders, seed) and the step name as ctx.step. A module-level
// `columns` list of [name, type] pairs pins column order and database
// types; without it both are inferred from the first row.
type ScriptExtractor struct {
	name string
	path string

	output strings.Builder
}

// NewScriptExtractor wires a script file as the extractor for step name.
func NewScriptExtractor(name, path string) *ScriptExtractor {
	return &ScriptExtractor{name: name, path: path}
}

func (s *ScriptExtractor) Name() string { return s.name }

// Output returns everything the script printed during the last Extract.
func (s *ScriptExtractor) Output() string { return s.output.String() }

func (s *ScriptExtractor) Extract(ctx context.Context, params Params) (*warehouse.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.output.Reset()

	thread := &starlark.Thread{
		Name: s.path,
		Print: func(_ *starlark.Thread, msg string) {
			s.output.WriteString(msg)
			s.output.WriteByte('\n')
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := starlark.ExecFile(thread, s.path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("exec %s: %w", s.path, err)
	}

	fn, ok := globals["extract"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: script must define extract(ctx)", s.path)
	}

	result, err := starlark.Call(thread, fn, starlark.Tuple{s.contextValue(params)}, nil)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", s.path, err)
	}

	records, err := recordsToGo(result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	columns, err := scriptColumns(globals["columns"], records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = rec[col.Name]
		}
		rows[i] = row
	}

	return &warehouse.Batch{
		Table:   "raw_" + s.name,
		Columns: columns,
		Rows:    rows,
	}, nil
}

// contextValue builds the ctx struct handed to extract().
func (s *ScriptExtractor) contextValue(params Params) starlark.Value {
	pd := starlark.NewDict(4)
	_ = pd.SetKey(starlark.String("num_users"), starlark.MakeInt(params.NumUsers))
	_ = pd.SetKey(starlark.String("num_events"), starlark.MakeInt(params.NumEvents))
	_ = pd.SetKey(starlark.String("num_orders"), starlark.MakeInt(params.NumOrders))
	_ = pd.SetKey(starlark.String("seed"), starlark.MakeInt64(params.Seed))

	return starlarkstruct.FromStringDict(starlark.String("ctx"), starlark.StringDict{
		"step":   starlark.String(s.name),
		"params": pd,
	})
}

// recordsToGo converts the extract() return value into row maps.
func recordsToGo(v starlark.Value) ([]map[string]any, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("extract must return a list of dicts, got %s", v.Type())
	}

	records := make([]map[string]any, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item, err := toGo(list.Index(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d: expected dict, got %T", i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

// scriptColumns resolves the batch schema, preferring an explicit
// `columns` global over inference from the first record.
func scriptColumns(decl starlark.Value, records []map[string]any) ([]warehouse.Column, error) {
	if decl != nil && decl != starlark.None {
		return declaredColumns(decl)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no rows and no columns declaration")
	}

	names := make([]string, 0, len(records[0]))
	for name := range records[0] {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]warehouse.Column, len(names))
	for i, name := range names {
		columns[i] = warehouse.Column{Name: name, Type: inferType(records[0][name])}
	}
	return columns, nil
}

func declaredColumns(decl starlark.Value) ([]warehouse.Column, error) {
	list, ok := decl.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("columns must be a list of [name, type] pairs, got %s", decl.Type())
	}

	columns := make([]warehouse.Column, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		pair, err := toGo(list.Index(i))
		if err != nil {
			return nil, fmt.Errorf("columns[%d]: %w", i, err)
		}
		parts, ok := pair.([]any)
		if !ok || len(parts) != 2 {
			return nil, fmt.Errorf("columns[%d]: expected [name, type] pair", i)
		}
		name, nameOK := parts[0].(string)
		typ, typOK := parts[1].(string)
		if !nameOK || !typOK || name == "" || typ == "" {
			return nil, fmt.Errorf("columns[%d]: name and type must be non-empty strings", i)
		}
		columns = append(columns, warehouse.Column{Name: name, Type: typ})
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("columns declaration is empty")
	}
	return columns, nil
}

// inferType maps a Go value from toGo to a database column type.
func inferType(v any) string {
	switch v.(type) {
	case int64:
		return "BIGINT"
	case float64:
		return "DOUBLE"
	case bool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// toGo converts a Starlark value to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil.
func toGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val.String())
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := toGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type())
	}
}
