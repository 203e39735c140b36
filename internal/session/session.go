// Package session tracks which repository is indexed and whether it can be
// queried.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// State is the lifecycle phase of the active repository.
type State string

const (
	Empty    State = "EMPTY"
	Indexing State = "INDEXING"
	Ready    State = "READY"
)

// Ticket identifies one indexing run. Only the current ticket may complete
// or fail the run.
type Ticket struct {
	ID   uint64
	Repo domain.RepoID
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	Repository string     `json:"repository"`
	State      State      `json:"state"`
	Ready      bool       `json:"ready"`
	Message    string     `json:"message"`
	LastError  string     `json:"last_error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

// Session is the single-repository state machine:
// EMPTY -> INDEXING -> READY, INDEXING -> EMPTY on failure and
// READY -> INDEXING on a new analysis.
type Session struct {
	mu        sync.Mutex
	state     State
	repo      domain.RepoID
	seq       uint64
	current   uint64
	lastErr   error
	startedAt time.Time
	indexedAt time.Time
	now       func() time.Time
}

// New returns an EMPTY session.
func New() *Session {
	return &Session{state: Empty, now: time.Now}
}

// Begin moves the session to INDEXING for repo. It fails with domain.ErrBusy
// while another run is in progress.
func (s *Session) Begin(repo domain.RepoID) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Indexing {
		return Ticket{}, fmt.Errorf("%w: %s is being indexed", domain.ErrBusy, s.repo)
	}
	s.seq++
	s.current = s.seq
	s.state = Indexing
	s.repo = repo
	s.lastErr = nil
	s.startedAt = s.now()
	s.indexedAt = time.Time{}
	return Ticket{ID: s.current, Repo: repo}, nil
}

// Complete marks the run of t as READY.
func (s *Session) Complete(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.owns(t); err != nil {
		return err
	}
	s.state = Ready
	s.indexedAt = s.now()
	return nil
}

// Fail returns the session to EMPTY and records cause.
func (s *Session) Fail(t Ticket, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.owns(t); err != nil {
		return err
	}
	s.state = Empty
	s.lastErr = cause
	return nil
}

func (s *Session) owns(t Ticket) error {
	if s.state != Indexing || t.ID != s.current {
		return fmt.Errorf("%w: ticket %d does not own the session", domain.ErrInvariantViolation, t.ID)
	}
	return nil
}

// Ready returns the indexed repository. A zero target accepts whichever
// repository is indexed; otherwise the target must match.
func (s *Session) Ready(target domain.RepoID) (domain.RepoID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return domain.RepoID{}, fmt.Errorf("%w: session is %s", domain.ErrNotReady, s.state)
	}
	if !target.IsZero() && target != s.repo {
		return domain.RepoID{}, fmt.Errorf("%w: %s is indexed, not %s", domain.ErrNotReady, s.repo, target)
	}
	return s.repo, nil
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for reporting.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Repository: s.repo.String(),
		State:      s.state,
		Ready:      s.state == Ready,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	if !s.indexedAt.IsZero() {
		t := s.indexedAt
		st.IndexedAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}

	switch s.state {
	case Ready:
		st.Message = fmt.Sprintf("Repository '%s' is ready for queries", s.repo)
	case Indexing:
		st.Message = fmt.Sprintf("Repository '%s' is being indexed", s.repo)
	default:
		if s.lastErr != nil {
			st.Message = fmt.Sprintf("Analysis of '%s' failed", s.repo)
		} else {
			st.Message = "No repository analyzed"
		}
	}
	return st
}
