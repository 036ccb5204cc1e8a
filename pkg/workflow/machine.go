// Package workflow implements the query pipeline as a state machine: each
// question runs through intent recognition, understanding, construction,
// execution, and formatting, with a recovery path for failed executions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sapassist/pkg/logx"
)

const (
	// DefaultMaxRetries is the default maximum number of retries per state.
	DefaultMaxRetries = 3
)

// State identifies a pipeline state.
type State string

func (s State) String() string {
	return string(s)
}

// Sentinel errors for state machine operations.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateNotFound     = errors.New("state not found")
)

// StateTransition represents a transition between states.
type StateTransition struct {
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StateChange notifies observers of a transition.
type StateChange struct {
	RunID     string
	FromState State
	ToState   State
	Timestamp time.Time
	Metadata  map[string]any
}

// StateMachine defines the interface for state machine implementations.
type StateMachine interface {
	// GetCurrentState returns the current state.
	GetCurrentState() State

	// ProcessState handles the logic for the current state.
	// Returns next state and whether processing is complete.
	ProcessState(ctx context.Context) (next State, done bool, err error)

	// TransitionTo moves to a new state.
	TransitionTo(ctx context.Context, newState State, metadata map[string]any) error

	// Initialize sets up the state machine.
	Initialize(ctx context.Context) error

	// Persist saves the current state to durable storage.
	Persist() error

	// CompactIfNeeded compacts state data if size threshold is exceeded.
	CompactIfNeeded() error
}

// StateData represents generic state storage.
type StateData map[string]any

// TransitionTable represents valid state transitions for a machine instance.
type TransitionTable map[State][]State

// StateStore defines the interface for state persistence.
type StateStore interface {
	// Save persists a value with the given ID.
	Save(id string, value any) error
	// Load retrieves a value by ID into the provided destination.
	Load(id string, dest any) error
}

// BaseStateMachine provides common state machine functionality.
type BaseStateMachine struct {
	runID        string
	currentState State
	stateData    StateData
	transitions  []StateTransition
	store        StateStore      // State persistence
	table        TransitionTable // Instance-local transition table
	mu           sync.Mutex      // Protects state changes
	retryCount   int             // Tracks retry attempts
	maxRetries   int             // Maximum retries before failing
	logger       *logx.Logger

	// State change notifications.
	stateNotifCh chan<- *StateChange
}

// NewBaseStateMachine creates a new base state machine with an optional
// transition table.
func NewBaseStateMachine(runID string, initialState State, store StateStore, table TransitionTable) *BaseStateMachine {
	// Use the pipeline table as fallback.
	if table == nil {
		table = ValidTransitions
	}

	return &BaseStateMachine{
		runID:        runID,
		currentState: initialState,
		stateData:    make(StateData),
		transitions:  make([]StateTransition, 0),
		store:        store,
		table:        table,
		maxRetries:   DefaultMaxRetries,
		logger:       logx.NewLogger(runID),
	}
}

// GetCurrentState returns the current state.
func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentState
}

// GetStateData returns a copy of the current state data.
func (sm *BaseStateMachine) GetStateData() StateData {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	result := make(StateData)
	for k, v := range sm.stateData {
		result[k] = v
	}
	return result
}

// SetStateData sets a value in the state data.
func (sm *BaseStateMachine) SetStateData(key string, value any) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateData[key] = value
}

// GetStateValue gets a value from the state data.
func (sm *BaseStateMachine) GetStateValue(key string) (any, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	value, exists := sm.stateData[key]
	return value, exists
}

// SetTyped stores a typed value in the state data with compile-time type safety.
func SetTyped[T any](sm *BaseStateMachine, key string, value T) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateData[key] = value
}

// GetTyped retrieves a typed value from the state data with compile-time
// type safety. Returns the value and whether the key was found.
func GetTyped[T any](sm *BaseStateMachine, key string) (T, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var zero T
	value, exists := sm.stateData[key]
	if !exists {
		return zero, false
	}

	typedValue, ok := value.(T)
	if !ok {
		return zero, false
	}

	return typedValue, true
}

// IsValidTransition checks the transition table.
func (sm *BaseStateMachine) IsValidTransition(from, to State) bool {
	for _, allowed := range sm.table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo moves to a new state and records the transition.
func (sm *BaseStateMachine) TransitionTo(ctx context.Context, newState State, metadata map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("state transition cancelled: %w", ctx.Err())
	default:
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	oldState := sm.currentState

	if !sm.IsValidTransition(oldState, newState) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, oldState, newState)
	}

	transition := StateTransition{
		FromState: oldState,
		ToState:   newState,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	sm.transitions = append(sm.transitions, transition)

	sm.currentState = newState

	sm.logger.Info("🔄 State machine transition: %s → %s", oldState, newState)

	// Send state change notification (non-blocking)
	if sm.stateNotifCh != nil {
		notification := &StateChange{
			RunID:     sm.runID,
			FromState: oldState,
			ToState:   newState,
			Timestamp: transition.Timestamp,
			Metadata:  metadata,
		}

		select {
		case sm.stateNotifCh <- notification:
		default:
			// Channel full, log warning but don't block.
			sm.logger.Warn("State notification channel full, dropping notification for %s: %s->%s",
				sm.runID, oldState, newState)
		}
	}

	sm.stateData["previous_state"] = oldState.String()
	sm.stateData["current_state"] = newState.String()
	sm.stateData["transition_at"] = transition.Timestamp

	// Reset retry count on state change.
	if oldState != newState {
		sm.retryCount = 0
	}

	for k, v := range metadata {
		sm.stateData[k] = v
	}

	if err := sm.Persist(); err != nil {
		return fmt.Errorf("failed to persist state transition: %w", err)
	}

	return nil
}

// GetTransitions returns the state transition history.
func (sm *BaseStateMachine) GetTransitions() []StateTransition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]StateTransition{}, sm.transitions...)
}

// GetRunID returns the run ID.
func (sm *BaseStateMachine) GetRunID() string {
	return sm.runID
}

// Persist saves the current state to durable storage.
func (sm *BaseStateMachine) Persist() error {
	if sm.store == nil {
		return nil // No storage configured
	}

	state := map[string]any{
		"current_state": sm.currentState.String(),
		"state_data":    sm.stateData,
		"transitions":   sm.transitions,
		"retry_count":   sm.retryCount,
	}

	if err := sm.store.Save(sm.runID, state); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// CompactIfNeeded compacts state data if size threshold is exceeded.
func (sm *BaseStateMachine) CompactIfNeeded() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	const maxTransitions = 100 // Keep last 100 transitions
	if len(sm.transitions) > maxTransitions {
		sm.transitions = sm.transitions[len(sm.transitions)-maxTransitions:]
	}

	return nil
}

// IncrementRetry increments the retry counter and checks against max retries.
func (sm *BaseStateMachine) IncrementRetry() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.retryCount++
	if sm.retryCount >= sm.maxRetries {
		return fmt.Errorf("exceeded maximum retries (%d)", sm.maxRetries)
	}
	return nil
}

// SetMaxRetries sets the maximum number of retries.
func (sm *BaseStateMachine) SetMaxRetries(max int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxRetries = max
}

// SetStateNotificationChannel sets the channel for state change notifications.
func (sm *BaseStateMachine) SetStateNotificationChannel(ch chan<- *StateChange) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateNotifCh = ch
}

// ProcessState provides a default implementation that derived types should override.
func (sm *BaseStateMachine) ProcessState(_ context.Context) (State, bool, error) {
	return sm.currentState, false, fmt.Errorf("ProcessState not implemented")
}

// Initialize sets up the state machine, restoring persisted state when
// available.
func (sm *BaseStateMachine) Initialize(_ context.Context) error {
	if sm.store == nil {
		return nil
	}

	var state map[string]any
	if err := sm.store.Load(sm.runID, &state); err != nil {
		// No state found is OK, this is a first run.
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load state: %w", err)
	}
	if state == nil {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if transitionsAny, ok := state["transitions"].([]any); ok {
		transitions := make([]StateTransition, 0, len(transitionsAny))
		for _, t := range transitionsAny {
			tMap, ok := t.(map[string]any)
			if !ok {
				continue
			}
			transition := StateTransition{}
			if fromState, ok := tMap["from_state"].(string); ok {
				transition.FromState = State(fromState)
			}
			if toState, ok := tMap["to_state"].(string); ok {
				transition.ToState = State(toState)
			}
			if ts, ok := tMap["timestamp"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					transition.Timestamp = parsed
				}
			}
			if meta, ok := tMap["metadata"].(map[string]any); ok {
				transition.Metadata = meta
			}
			transitions = append(transitions, transition)
		}
		sm.transitions = transitions
	}

	if stateData, ok := state["state_data"].(map[string]any); ok {
		sm.stateData = make(StateData)
		for k, v := range stateData {
			sm.stateData[k] = v
		}
	}

	if retryCount, ok := state["retry_count"].(float64); ok {
		sm.retryCount = int(retryCount)
	}

	if currentState, ok := state["current_state"].(string); ok {
		sm.currentState = State(currentState)
	}

	return nil
}
