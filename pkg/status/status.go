// Package status tracks the cumulative health of ShadowFS components
// over time, distinct from internal/health's active periodic probing:
// this package accumulates degraded/read-only/unavailable state from
// recorded successes and errors as operations actually happen.
package status

import (
	"context"
	stderr "errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowfs/shadowfs/pkg/errors"
)

// State represents the overall health state of a component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StateDegraded indicates the component is operational but with reduced functionality.
	StateDegraded

	// StateReadOnly indicates the component can only perform read operations.
	StateReadOnly

	// StateUnavailable indicates the component is not operational.
	StateUnavailable
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentStatus tracks the status of a specific component.
type ComponentStatus struct {
	Name              string                 `json:"name"`
	State             State                  `json:"state"`
	LastStateChange   time.Time              `json:"last_state_change"`
	LastCheck         time.Time              `json:"last_check"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	LastError         error                  `json:"-"`
	LastErrorMessage  string                 `json:"last_error_message,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Tracker tracks the status of multiple components and determines
// overall mount status.
type Tracker struct {
	mu             sync.RWMutex
	components     map[string]*ComponentStatus
	config         TrackerConfig
	stateCallbacks map[State][]StateChangeCallback
	listeners      []Listener
}

// TrackerConfig configures status tracking behavior.
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// RecoveryThreshold is not consulted by the tracker: each success counts
	// ConsecutiveErrors down by one, and the component returns to healthy
	// when that count reaches zero.
	RecoveryThreshold int `yaml:"recovery_threshold" json:"recovery_threshold"`

	// CheckInterval is the interval for automatic status checks.
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
}

// StateChangeCallback is called when a component's state changes.
type StateChangeCallback func(component string, oldState, newState State, err error)

// Listener is notified of all status events.
type Listener interface {
	OnStateChange(component string, oldState, newState State, err error)
	OnCheck(component string, healthy bool, err error)
}

// DefaultConfig returns a default tracker configuration.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    5,
		CheckInterval:        30 * time.Second,
	}
}

// NewTracker creates a new status tracker.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components:     make(map[string]*ComponentStatus),
		config:         config,
		stateCallbacks: make(map[State][]StateChangeCallback),
		listeners:      make([]Listener, 0),
	}
}

// RegisterComponent registers a new component for status tracking.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		t.components[name] = &ComponentStatus{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: time.Now(),
			LastCheck:       time.Now(),
			Metadata:        make(map[string]interface{}),
		}
	}
}

// RecordSuccess records a successful operation for a component.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.components[component]
	if !exists {
		return
	}

	oldState := st.State
	st.LastCheck = time.Now()

	if st.ConsecutiveErrors > 0 {
		st.ConsecutiveErrors--
		if st.ConsecutiveErrors == 0 && st.State != StateHealthy {
			t.transitionState(st, StateHealthy, nil)
		}
	}

	for _, listener := range t.listeners {
		listener.OnCheck(component, true, nil)
	}

	if oldState != st.State {
		t.notifyStateChange(component, oldState, st.State, nil)
	}
}

// RecordError records an error for a component.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.components[component]
	if !exists {
		return
	}

	oldState := st.State
	st.LastCheck = time.Now()
	st.ConsecutiveErrors++
	st.LastError = err
	if err != nil {
		st.LastErrorMessage = err.Error()
	}

	var newState State
	switch {
	case st.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case st.ConsecutiveErrors >= t.config.ErrorThreshold:
		if t.isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	default:
		newState = st.State
	}

	if newState != oldState {
		t.transitionState(st, newState, err)
	}

	for _, listener := range t.listeners {
		listener.OnCheck(component, false, err)
	}

	if oldState != st.State {
		t.notifyStateChange(component, oldState, st.State, err)
	}
}

// GetState returns the current state of a component.
func (t *Tracker) GetState(component string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, exists := t.components[component]; exists {
		return st.State
	}
	return StateUnavailable
}

// GetComponentStatus returns the status information for a component.
func (t *Tracker) GetComponentStatus(component string) (*ComponentStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}

	return &ComponentStatus{
		Name:              st.Name,
		State:             st.State,
		LastStateChange:   st.LastStateChange,
		LastCheck:         st.LastCheck,
		ConsecutiveErrors: st.ConsecutiveErrors,
		LastError:         st.LastError,
		LastErrorMessage:  st.LastErrorMessage,
		Metadata:          st.Metadata,
	}, nil
}

// GetAllComponents returns status information for all registered components.
func (t *Tracker) GetAllComponents() map[string]*ComponentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentStatus)
	for name, st := range t.components {
		result[name] = &ComponentStatus{
			Name:              st.Name,
			State:             st.State,
			LastStateChange:   st.LastStateChange,
			LastCheck:         st.LastCheck,
			ConsecutiveErrors: st.ConsecutiveErrors,
			LastError:         st.LastError,
			LastErrorMessage:  st.LastErrorMessage,
			Metadata:          st.Metadata,
		}
	}
	return result
}

// GetOverallStatus returns the overall mount status based on all components.
func (t *Tracker) GetOverallStatus() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.components) == 0 {
		return StateHealthy
	}

	overall := StateHealthy
	for _, st := range t.components {
		if st.State > overall {
			overall = st.State
		}
	}
	return overall
}

// IsHealthy returns true if the component is in a healthy state.
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead returns true if the component can perform read operations.
func (t *Tracker) CanRead(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded || state == StateReadOnly
}

// CanWrite returns true if the component can perform write operations.
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for transitions into a specific state.
func (t *Tracker) AddStateChangeCallback(state State, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks[state] = append(t.stateCallbacks[state], callback)
}

// AddListener registers a status listener.
func (t *Tracker) AddListener(listener Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, listener)
}

// SetComponentMetadata sets metadata for a component.
func (t *Tracker) SetComponentMetadata(component, key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, exists := t.components[component]; exists {
		st.Metadata[key] = value
	}
}

func (t *Tracker) transitionState(st *ComponentStatus, newState State, err error) {
	st.State = newState
	st.LastStateChange = time.Now()

	if newState == StateHealthy {
		st.ConsecutiveErrors = 0
		st.LastError = nil
		st.LastErrorMessage = ""
	}
}

func (t *Tracker) notifyStateChange(component string, oldState, newState State, err error) {
	if callbacks, exists := t.stateCallbacks[newState]; exists {
		for _, callback := range callbacks {
			go callback(component, oldState, newState, err)
		}
	}

	for _, listener := range t.listeners {
		go listener.OnStateChange(component, oldState, newState, err)
	}
}

// isWriteError reports whether err indicates a write-path failure, so
// reads may still be served while writes are refused.
func (t *Tracker) isWriteError(err error) bool {
	if err == nil {
		return false
	}

	var sfsErr *errors.ShadowFSError
	if stderr.As(err, &sfsErr) {
		switch sfsErr.Code {
		case errors.ErrCodePermissionDenied, errors.ErrCodeOverrideStoreFull:
			return true
		}
	}

	return false
}

// StartChecks starts periodic status checks for all registered components.
func (t *Tracker) StartChecks(ctx context.Context, checkFn func(component string) error) {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.performChecks(checkFn)
		}
	}
}

func (t *Tracker) performChecks(checkFn func(component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		if err := checkFn(component); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}
