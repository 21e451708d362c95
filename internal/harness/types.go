package harness

// Trace event types.
const (
	EventMutation = "mutation"
	EventNetwork  = "network"
	EventRequest  = "request"
	EventNotice   = "notice"
	EventCycle    = "cycle"
)

// TraceEvent is one observable effect of a scenario step.
//
// Action names the effect: "CREATE student/s1" for mutations, "online" or
// "offline" for network changes, "submit" for requests sent to the server,
// "conflict grade/g1" and "reject invoice/i1" for notices, and
// "sync <outcome>" for explicit cycles.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every observable effect in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event with the next sequence number.
func (r *Result) AddTrace(eventType, action string, args map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Type:   eventType,
		Action: action,
		Args:   args,
	})
}
