package model

import "fmt"

// Trigger names what requested a sync cycle.
type Trigger string

const (
	// TriggerReconnect fires on an Offline -> Online transition.
	TriggerReconnect Trigger = "reconnect"
	// TriggerTimer fires from the periodic sync timer.
	TriggerTimer Trigger = "timer"
	// TriggerMutation fires after a local mutation while online.
	TriggerMutation Trigger = "mutation"
	// TriggerManual is an explicit request (CLI, tests).
	TriggerManual Trigger = "manual"
)

// ParseTrigger parses a trigger name.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerReconnect, TriggerTimer, TriggerMutation, TriggerManual:
		return t, nil
	}
	return "", fmt.Errorf("unknown sync trigger %q", s)
}
