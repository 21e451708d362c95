package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/offsync/internal/store"
)

// identifier guards table and column names interpolated into final_state
// queries; values are always bound as parameters.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion together with the trace
// that produced it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		b.WriteString("\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&b, "  [%d] %s %s %v\n", ev.Seq, ev.Type, ev.Action, ev.Args)
		}
	}
	return b.String()
}

// AssertionContext gives final_state assertions access to the store.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion and returns one message per
// failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(i, result.Trace, a, actx); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(i int, trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertFinalState:
		if actx == nil || actx.Store == nil {
			return fmt.Errorf("assertion[%d]: final_state requires database context", i)
		}
		return assertFinalState(actx.Ctx, actx.Store, a)
	}
	return fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
}

// assertTraceContains passes if some event has the action and a superset
// of the expected args.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	found := slices.ContainsFunc(trace, func(ev TraceEvent) bool {
		return ev.Action == a.Action && matchArgs(ev.Args, a.Args)
	})
	if found {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", a.Action, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder compares first occurrences; other events may sit in
// between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := make([]int, len(a.Actions))
	for i, action := range a.Actions {
		idx := slices.IndexFunc(trace, func(ev TraceEvent) bool { return ev.Action == action })
		if idx < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
		pos[i] = idx + 1
	}

	for i := 1; i < len(pos); i++ {
		if pos[i-1] >= pos[i] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					a.Actions[i-1], pos[i-1], a.Actions[i], pos[i]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Action == a.Action {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
		Actual:   fmt.Sprintf("%d occurrences", n),
		Trace:    trace,
	}
}

// assertFinalState selects exactly one row of a.Table matching a.Where and
// checks the columns named in a.Expect.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !identifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, identifier)
	}
	where, args, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := "SELECT * FROM " + a.Table
	if where != "" {
		query += " WHERE " + where
	}
	row, columns, err := selectOne(ctx, st.DB(), query, args)
	switch {
	case errors.Is(err, errNoRow):
		return stateFailure(fmt.Sprintf("row in %s where %s", a.Table, describeWhere(a.Where)), "row not found")
	case errors.Is(err, errManyRows):
		return stateFailure(fmt.Sprintf("exactly one row in %s where %s", a.Table, describeWhere(a.Where)),
			"multiple rows matched (assertion is ambiguous)")
	case err != nil:
		return stateFailure(fmt.Sprintf("query table %s", a.Table), fmt.Sprintf("query error: %v", err))
	}

	for _, col := range slices.Sorted(maps.Keys(a.Expect)) {
		want := a.Expect[col]
		got, ok := row[col]
		if !ok {
			return stateFailure(fmt.Sprintf("field %q to exist", col),
				fmt.Sprintf("field %q not present in result columns: %v", col, columns))
		}
		if !stateValuesEqual(want, got) {
			return stateFailure(fmt.Sprintf("field %q = %v (type %T)", col, want, want),
				fmt.Sprintf("field %q = %v (type %T)", col, got, got))
		}
	}
	return nil
}

func stateFailure(expected, actual string) error {
	return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual}
}

var (
	errNoRow    = errors.New("no row")
	errManyRows = errors.New("more than one row")
)

// selectOne runs query and returns its single row keyed by column.
func selectOne(ctx context.Context, db *sql.DB, query string, args []any) (map[string]any, []string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
		return nil, columns, errNoRow
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, nil, err
	}
	if rows.Next() {
		return nil, columns, errManyRows
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	return row, columns, nil
}

// buildWhereClause turns where into "a = ? AND b = ?" over sorted keys.
func buildWhereClause(where map[string]any) (string, []any, error) {
	keys := slices.Sorted(maps.Keys(where))
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if !identifier.MatchString(k) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", k, identifier)
		}
		clauses = append(clauses, k+" = ?")
		args = append(args, toSQLValue(where[k]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue maps YAML scalars onto what SQLite stores.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case string, int, int64:
		return val
	}
	return fmt.Sprint(v)
}

func describeWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range slices.Sorted(maps.Keys(where)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a scanned column.
// SQLite returns booleans as integers and TEXT may come back as bytes.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := expected.(bool); ok {
		if n, ok := actual.(int64); ok {
			return b == (n != 0)
		}
	}
	if raw, ok := actual.([]byte); ok {
		actual = string(raw)
	}
	return valuesEqual(actual, expected)
}

// matchArgs reports whether actual holds every expected key with an
// equal value. Extra keys are fine.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares nested maps and slices. Integers compare by value
// whatever their width, since YAML and the trace disagree on it.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if a, ok := asInt64(actual); ok {
		e, ok := asInt64(expected)
		return ok && a == e
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for k, v := range exp {
			if !valuesEqual(act[k], v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		return ok && slices.EqualFunc(act, exp, valuesEqual)
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
