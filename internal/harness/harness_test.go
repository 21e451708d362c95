package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/rejection_and_transport_failure.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_MutationWhileOnlineSyncsImmediately(t *testing.T) {
	scenario := &Scenario{
		Name:        "online_mutation",
		Description: "Online mutation is submitted right away",
		Tenant:      DefaultTenant,
		Online:      true,
		Steps: []Step{
			{Create: &MutationStep{Entity: "teacher", ID: "t1", Data: map[string]any{"name": "Ms Lee"}}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Actions: []string{"CREATE teacher/t1", "submit"}},
			{Type: AssertFinalState, Table: "teachers", Where: map[string]any{"id": "t1"}, Expect: map[string]any{"is_dirty": false}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventMutation, result.Trace[0].Type)
	assert.Equal(t, EventRequest, result.Trace[1].Type)
}

func TestRun_DeleteTwiceAppendsOneEvent(t *testing.T) {
	scenario := &Scenario{
		Name:        "delete_twice",
		Description: "Second delete is a no-op",
		Tenant:      DefaultTenant,
		Steps: []Step{
			{Create: &MutationStep{Entity: "class", ID: "c1"}},
			{Delete: &MutationStep{Entity: "class", ID: "c1"}},
			{Delete: &MutationStep{Entity: "class", ID: "c1"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "DELETE class/c1", Count: 2},
			{Type: AssertFinalState, Table: "classes", Where: map[string]any{"id": "c1"}, Expect: map[string]any{"deleted": true, "version": 2}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, map[string]any{"event_id": "evt-2", "version": 2}, result.Trace[1].Args)
	assert.Equal(t, map[string]any{"version": 2}, result.Trace[2].Args, "no event for the no-op delete")
}

func TestRun_ExpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "update_missing",
		Description: "Updating an unknown record fails",
		Tenant:      DefaultTenant,
		Steps: []Step{
			{
				Update: &MutationStep{Entity: "student", ID: "nobody", Data: map[string]any{"name": "x"}},
				Expect: &ExpectClause{Error: "not found"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "UPDATE student/nobody", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnexpectedErrorFailsResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_entity",
		Description: "Unknown entity types are step errors",
		Tenant:      DefaultTenant,
		Steps: []Step{
			{Create: &MutationStep{Entity: "spaceship", ID: "x1"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "CREATE spaceship/x1", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0]: unexpected error")
}

func TestRun_OutcomeMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "offline_sync",
		Description: "Offline sync is a no-op",
		Tenant:      DefaultTenant,
		Steps: []Step{
			{Sync: "manual", Expect: &ExpectClause{Outcome: "success"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: "sync offline"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"steps[0]: expected outcome success, got offline"}, result.Errors)
}

func TestRun_TransportErrorOnExplicitSync(t *testing.T) {
	scenario := &Scenario{
		Name:        "explicit_failure",
		Description: "Explicit sync reports transport errors",
		Tenant:      DefaultTenant,
		Steps: []Step{
			{Create: &MutationStep{Entity: "payslip", ID: "p1"}},
			{Respond: &ResponseStep{Fail: "gateway timeout"}},
			{Network: "online"},
			{Respond: &ResponseStep{Fail: "gateway timeout"}},
			{Sync: "manual", Expect: &ExpectClause{Outcome: "transport_error", Error: "gateway timeout"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "outbox_events", Where: map[string]any{"id": "evt-1"}, Expect: map[string]any{"status": "PENDING", "attempt_count": 2}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "sync transport_error", last.Action)
	assert.Equal(t, 1, last.Args["reverted"])
}

func TestRun_BackoffSkipsMutationTrigger(t *testing.T) {
	scenario := &Scenario{
		Name:        "backoff",
		Description: "Mutation triggers wait out the backoff",
		Tenant:      DefaultTenant,
		Online:      true,
		Steps: []Step{
			{Respond: &ResponseStep{Fail: "refused"}},
			{Create: &MutationStep{Entity: "guardian", ID: "g1"}},
			{Update: &MutationStep{Entity: "guardian", ID: "g1", Data: map[string]any{"phone": "555"}}},
			{Advance: "2s"},
			{Update: &MutationStep{Entity: "guardian", ID: "g1", Data: map[string]any{"phone": "556"}}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "submit", Count: 2},
			{Type: AssertTraceOrder, Actions: []string{"CREATE guardian/g1", "submit", "UPDATE guardian/g1"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	last := result.Trace[len(result.Trace)-1]
	require.Equal(t, EventRequest, last.Type)
	events := last.Args["events"].([]any)
	assert.Len(t, events, 3)
}
