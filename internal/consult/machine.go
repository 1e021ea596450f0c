// SPDX-License-Identifier: MIT

package consult

import (
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/store"
)

// Action is a requested consultation transition.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionBusy     Action = "busy"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// transitions is the full decision table of the consultation state
// machine. Absent entries are rejected; there are no implicit edges.
//
//	pending ──accept──▶ accepted ──complete──▶ completed
//	   │                   │
//	   │                   └──busy──▶ busy ──cancel──▶ cancelled
//	   └──cancel──▶ cancelled
var transitions = map[store.ConsultationStatus]map[Action]store.ConsultationStatus{
	store.StatusPending: {
		ActionAccept: store.StatusAccepted,
		ActionCancel: store.StatusCancelled,
	},
	store.StatusAccepted: {
		ActionComplete: store.StatusCompleted,
		ActionBusy:     store.StatusBusy,
	},
	store.StatusBusy: {
		ActionCancel: store.StatusCancelled,
	},
}

// ParseAction validates a wire action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAccept, ActionBusy, ActionComplete, ActionCancel:
		return Action(s), nil
	default:
		return "", fault.Newf(fault.Validation, "consultation.action", "unknown action %q", s)
	}
}

// next resolves the target state for (current, action). The error is a
// conflict fault naming both, so callers can audit the refused edge.
func next(current store.ConsultationStatus, action Action) (store.ConsultationStatus, error) {
	if edges, ok := transitions[current]; ok {
		if to, ok := edges[action]; ok {
			return to, nil
		}
	}
	return "", fault.Newf(fault.Conflict, "consultation.state",
		"action %q not allowed in state %q", action, current)
}
