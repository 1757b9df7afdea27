package domain

// Transition names an event that moves a transaction between states.
type Transition string

const (
	TransitionProcess  Transition = "process"
	TransitionComplete Transition = "complete"
	TransitionFail     Transition = "fail"
	TransitionReverse  Transition = "reverse"
)

type transitionRule struct {
	from map[TxStatus]struct{}
	to   TxStatus
}

var transitionRules = map[Transition]transitionRule{
	TransitionProcess: {
		from: map[TxStatus]struct{}{TxStatusPending: {}},
		to:   TxStatusProcessing,
	},
	TransitionComplete: {
		from: map[TxStatus]struct{}{TxStatusProcessing: {}},
		to:   TxStatusCompleted,
	},
	TransitionFail: {
		from: map[TxStatus]struct{}{TxStatusPending: {}, TxStatusProcessing: {}},
		to:   TxStatusFailed,
	},
	TransitionReverse: {
		from: map[TxStatus]struct{}{TxStatusCompleted: {}},
		to:   TxStatusReversed,
	},
}

// NextStatus returns the state reached by applying t to current.
// It never mutates anything; callers persist the result.
func NextStatus(current TxStatus, t Transition) (TxStatus, error) {
	rule, ok := transitionRules[t]
	if !ok {
		return current, &InvalidTransitionError{From: current, Transition: t}
	}
	if _, ok := rule.from[current]; !ok {
		return current, &InvalidTransitionError{From: current, Transition: t}
	}
	return rule.to, nil
}

// CanApply reports whether t is allowed from current.
func CanApply(current TxStatus, t Transition) bool {
	_, err := NextStatus(current, t)
	return err == nil
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s TxStatus) bool {
	for _, rule := range transitionRules {
		if _, ok := rule.from[s]; ok {
			return false
		}
	}
	return true
}
