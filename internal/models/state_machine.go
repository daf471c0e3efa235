// Package models provides the data structures shared by the backtest engine:
// option chains, strategy definitions, live legs and trade rows.
package models

import (
	"fmt"
	"time"
)

// LegState represents the lifecycle state of a leg
type LegState string

const (
	StatePending LegState = "pending" // Created, waiting for a fill
	StateOpen    LegState = "open"    // Filled, marked every snapshot
	StateClosed  LegState = "closed"  // Exited, PnL final
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        LegState
	To          LegState
	Condition   string
	Description string
}

// Transition conditions
const (
	CondFilled     = "filled"
	CondTarget     = "target"
	CondStopLoss   = "stop_loss"
	CondTrail      = "trail"
	CondTime       = "time"
	CondSquareOff  = "square_off"
	CondForceClose = "force_close"
)

// ValidTransitions lists every allowed leg state change.
var ValidTransitions = []StateTransition{
	{StatePending, StateOpen, CondFilled, "Entry filled at snapshot mark"},

	{StateOpen, StateClosed, CondTarget, "Target hit"},
	{StateOpen, StateClosed, CondStopLoss, "Stop loss hit"},
	{StateOpen, StateClosed, CondTrail, "Trailing stop hit"},
	{StateOpen, StateClosed, CondTime, "Session exit time reached"},
	{StateOpen, StateClosed, CondSquareOff, "Another leg exited in Complete mode"},
	{StateOpen, StateClosed, CondForceClose, "Session aborted or data ended"},
}

// StateMachine guards leg state transitions
type StateMachine struct {
	transitionCount map[LegState]int
	currentState    LegState
}

// NewStateMachine creates a new state machine in the pending state
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StatePending,
		transitionCount: make(map[LegState]int),
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() LegState {
	return sm.currentState
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to LegState, condition string) error {
	for _, t := range ValidTransitions {
		if t.From == sm.currentState && t.To == to && (condition == "" || t.Condition == condition) {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state. at is the snapshot time, used in errors.
func (sm *StateMachine) Transition(to LegState, condition string, at time.Time) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return fmt.Errorf("at %s: %w", at.Format("15:04:05"), err)
	}
	sm.currentState = to
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've entered a state
func (sm *StateMachine) GetTransitionCount(state LegState) int {
	return sm.transitionCount[state]
}

// ValidateStateConsistency ensures a leg was opened at most once and
// closed at most once.
func (sm *StateMachine) ValidateStateConsistency() error {
	if n := sm.transitionCount[StateOpen]; n > 1 {
		return fmt.Errorf("leg opened %d times", n)
	}
	if n := sm.transitionCount[StateClosed]; n > 1 {
		return fmt.Errorf("leg closed %d times", n)
	}
	if sm.currentState == StateClosed && sm.transitionCount[StateOpen] == 0 {
		return fmt.Errorf("leg closed without being opened")
	}
	return nil
}
