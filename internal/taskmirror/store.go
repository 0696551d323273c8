package taskmirror

import (
	"sync"

	"go.uber.org/zap"
)

// Source identifies which side of the engine produced a store mutation. The
// poll-versus-push race on the same field is last-write-wins by completion
// order; tagging every mutation makes that ordering observable and testable.
type Source string

const (
	SourcePush  Source = "push"
	SourcePoll  Source = "poll"
	SourceFetch Source = "fetch"
	SourceUI    Source = "ui"
)

// State is the single mutable projection of all mirrored collections plus
// selection state. It is only ever replaced wholesale inside Store.Apply;
// nothing outside this package mutates it in place.
type State struct {
	Tasks      []Task                   `json:"tasks"`
	Stats      Stats                    `json:"stats"`
	SelectedID string                   `json:"selectedId,omitempty"`
	Activity   []Activity               `json:"activity,omitempty"`
	Questions  []Question               `json:"questions,omitempty"`
	Artifacts  []Artifact               `json:"artifacts,omitempty"`
	Processes  map[string]ProcessStatus `json:"processes,omitempty"`
	Services   []ServiceStatus          `json:"services,omitempty"`
	Agents     []Agent                  `json:"agents,omitempty"`
	Connected  bool                     `json:"connected"`

	// Seq increases by one per applied (non no-op) action; LastSource is the
	// source of that action. Generation increases on every selection change
	// and fences off stale selection-scoped completions.
	Seq        uint64 `json:"seq"`
	LastSource Source `json:"lastSource,omitempty"`
	Generation uint64 `json:"generation"`
}

// Action is a named, total transition function over State. Applying an
// action never performs I/O; side effects live with the callers.
type Action interface {
	Name() string
	apply(state State) (State, bool)
}

type StoreOptions struct {
	// StateBackend checkpoints the state after every mutation and seeds it at
	// construction, so a restarted mirror comes up stale-but-available.
	StateBackend StateBackend
	Logger       *zap.Logger
}

// Store serializes every mutation behind one mutex and exposes read-only
// copies. All components share it through the same Apply contract.
type Store struct {
	mu      sync.RWMutex
	state   State
	backend StateBackend
	logger  *zap.Logger
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: opts.StateBackend,
		logger:  logger,
	}
	if s.backend != nil {
		snapshot, err := s.backend.Load()
		if err != nil {
			logger.Warn("state backend load failed", zap.Error(err))
		} else if snapshot != nil {
			s.state = *snapshot
			// A restored mirror is disconnected until the push channel says
			// otherwise.
			s.state.Connected = false
		}
	}
	return s
}

// Apply runs one named action. No-op actions leave Seq untouched and skip
// the checkpoint. It reports whether the state changed.
func (s *Store) Apply(source Source, action Action) bool {
	s.mu.Lock()
	next, changed := action.apply(s.state)
	if !changed {
		s.mu.Unlock()
		s.logger.Debug("store action no-op", zap.String("action", action.Name()), zap.String("source", string(source)))
		return false
	}
	next.Seq = s.state.Seq + 1
	next.LastSource = source
	s.state = next
	snapshot := s.state
	s.mu.Unlock()

	s.logger.Debug("store action applied",
		zap.String("action", action.Name()),
		zap.String("source", string(source)),
		zap.Uint64("seq", snapshot.Seq))
	if s.backend != nil {
		if err := s.backend.Save(&snapshot); err != nil {
			s.logger.Warn("state checkpoint failed", zap.String("action", action.Name()), zap.Error(err))
		}
	}
	return true
}

// Snapshot returns a copy of the current state. Slice headers are copied so
// callers can range safely; elements are value types and must be treated as
// read-only.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// SelectedID returns the current selection, empty when none.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SelectedID
}

// Generation returns the current selection generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Generation
}

func copyState(state State) State {
	out := state
	out.Tasks = append([]Task(nil), state.Tasks...)
	out.Activity = append([]Activity(nil), state.Activity...)
	out.Questions = append([]Question(nil), state.Questions...)
	out.Artifacts = append([]Artifact(nil), state.Artifacts...)
	out.Services = append([]ServiceStatus(nil), state.Services...)
	out.Agents = append([]Agent(nil), state.Agents...)
	if state.Processes != nil {
		processes := make(map[string]ProcessStatus, len(state.Processes))
		for id, status := range state.Processes {
			processes[id] = status
		}
		out.Processes = processes
	}
	return out
}
