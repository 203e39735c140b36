package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

var (
	hello = domain.RepoID{Owner: "octocat", Name: "hello-world"}
	other = domain.RepoID{Owner: "octocat", Name: "spoon-knife"}
)

func TestLifecycle(t *testing.T) {
	s := New()
	if s.State() != Empty {
		t.Fatalf("expected EMPTY, got %s", s.State())
	}
	if _, err := s.Ready(domain.RepoID{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before indexing, got %v", err)
	}

	ticket, err := s.Begin(hello)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Ready(hello); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady while indexing, got %v", err)
	}
	if err := s.Complete(ticket); err != nil {
		t.Fatal(err)
	}

	repo, err := s.Ready(domain.RepoID{})
	if err != nil || repo != hello {
		t.Fatalf("expected %s to be ready, got %s %v", hello, repo, err)
	}
	if _, err := s.Ready(other); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady for another repository, got %v", err)
	}

	st := s.Status()
	if !st.Ready || st.State != Ready || st.Repository != "octocat/hello-world" || st.IndexedAt == nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Message != "Repository 'octocat/hello-world' is ready for queries" {
		t.Errorf("unexpected message %q", st.Message)
	}
}

func TestBusyWhileIndexing(t *testing.T) {
	s := New()
	if _, err := s.Begin(hello); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(other); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestFailureEndsEmpty(t *testing.T) {
	s := New()
	first, _ := s.Begin(hello)
	if err := s.Complete(first); err != nil {
		t.Fatal(err)
	}

	second, err := s.Begin(other)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Fail(second, errors.New("embedding provider down")); err != nil {
		t.Fatal(err)
	}

	if s.State() != Empty {
		t.Fatalf("expected EMPTY after failure, got %s", s.State())
	}
	if _, err := s.Ready(domain.RepoID{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("a failed run must not leave the session ready, got %v", err)
	}
	st := s.Status()
	if st.LastError != "embedding provider down" || st.Ready {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStaleTicketIsRejected(t *testing.T) {
	s := New()
	first, _ := s.Begin(hello)
	_ = s.Fail(first, errors.New("boom"))
	if _, err := s.Begin(hello); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(first); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected stale ticket to be rejected, got %v", err)
	}
	if s.State() != Indexing {
		t.Fatalf("stale ticket changed state to %s", s.State())
	}
}

func TestConcurrentBeginAdmitsOne(t *testing.T) {
	s := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Begin(hello); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("expected exactly one run to start, got %d", granted)
	}
}
