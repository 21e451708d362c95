package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/model"
)

// Scenario defines a conformance scenario: a client starts with an empty
// store, performs a sequence of steps against a scripted sync server, and
// the resulting trace and final state are checked.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tenant is the active tenant. Defaults to DefaultTenant.
	Tenant string `yaml:"tenant,omitempty"`

	// Online is the initial network state.
	Online bool `yaml:"online"`

	// Steps run in order. Every cycle a step triggers has finished before
	// the next step starts.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultTenant is the tenant of scenarios that do not name one.
const DefaultTenant = "tenant-1"

// Step is one action of a scenario. Exactly one action field is set.
type Step struct {
	Create *MutationStep `yaml:"create,omitempty"`
	Update *MutationStep `yaml:"update,omitempty"`
	Delete *MutationStep `yaml:"delete,omitempty"`

	// Network switches the native connectivity signal: "online" or "offline".
	Network string `yaml:"network,omitempty"`

	// Respond scripts the server's answer to the next request. Requests
	// without a scripted answer are acknowledged in full.
	Respond *ResponseStep `yaml:"respond,omitempty"`

	// Sync runs a cycle with the given trigger and waits for its result.
	Sync string `yaml:"sync,omitempty"`

	// Advance moves the scenario clock forward, e.g. past a backoff window.
	Advance string `yaml:"advance,omitempty"`

	// Expect validates the step's outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// MutationStep addresses an entity for create, update and delete.
type MutationStep struct {
	Entity string         `yaml:"entity"`
	ID     string         `yaml:"id"`
	Data   map[string]any `yaml:"data,omitempty"`
}

// ResponseStep is a scripted server answer.
type ResponseStep struct {
	Acknowledge   []AckStep      `yaml:"acknowledge,omitempty"`
	Conflict      []ConflictStep `yaml:"conflict,omitempty"`
	Reject        []RejectStep   `yaml:"reject,omitempty"`
	SyncTimestamp string         `yaml:"sync_timestamp,omitempty"`

	// Fail makes the request fail with a transport error instead.
	Fail string `yaml:"fail,omitempty"`
}

// AckStep acknowledges an event, optionally under a server-assigned id.
type AckStep struct {
	Event    string `yaml:"event"`
	EntityID string `yaml:"entity_id,omitempty"`
}

// ConflictStep answers an event with the server's copy of the entity.
type ConflictStep struct {
	Event string         `yaml:"event"`
	Data  map[string]any `yaml:"data"`
}

// RejectStep permanently refuses an event.
type RejectStep struct {
	Event  string `yaml:"event"`
	Reason string `yaml:"reason"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is the expected cycle outcome of a sync step.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is a substring of the expected error. Steps without an
	// expected error must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an action appears in the trace with args
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check an action appears exactly N times
	// - "final_state": Query a table and verify expected values
	Type string `yaml:"type"`

	// Action is a trace action, e.g. "CREATE student/s1" or "submit".
	Action string `yaml:"action,omitempty"`

	// Args are the expected action arguments (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]any `yaml:"args,omitempty"`

	// Table is the table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Tenant == "" {
		scenario.Tenant = DefaultTenant
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
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	for _, present := range []bool{
		st.Create != nil, st.Update != nil, st.Delete != nil,
		st.Network != "", st.Respond != nil, st.Sync != "", st.Advance != "",
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, found %d", index, set)
	}

	for _, m := range []*MutationStep{st.Create, st.Update, st.Delete} {
		if m == nil {
			continue
		}
		if m.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required", index)
		}
		if m.ID == "" {
			return fmt.Errorf("steps[%d]: id is required", index)
		}
	}

	switch {
	case st.Network != "":
		if st.Network != "online" && st.Network != "offline" {
			return fmt.Errorf("steps[%d]: network must be online or offline, got %q", index, st.Network)
		}
	case st.Sync != "":
		if _, err := model.ParseTrigger(st.Sync); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case st.Advance != "":
		if d, err := time.ParseDuration(st.Advance); err != nil || d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be a positive duration, got %q", index, st.Advance)
		}
	case st.Respond != nil:
		r := st.Respond
		if r.Fail != "" && (len(r.Acknowledge)+len(r.Conflict)+len(r.Reject) > 0) {
			return fmt.Errorf("steps[%d]: a failed response cannot carry results", index)
		}
		for j, c := range r.Conflict {
			if c.Event == "" || c.Data == nil {
				return fmt.Errorf("steps[%d].conflict[%d]: event and data are required", index, j)
			}
		}
		for j, a := range r.Acknowledge {
			if a.Event == "" {
				return fmt.Errorf("steps[%d].acknowledge[%d]: event is required", index, j)
			}
		}
		for j, rj := range r.Reject {
			if rj.Event == "" {
				return fmt.Errorf("steps[%d].reject[%d]: event is required", index, j)
			}
		}
	}

	if st.Expect != nil && st.Expect.Outcome != "" && st.Sync == "" {
		return fmt.Errorf("steps[%d].expect: outcome is only valid on sync steps", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
