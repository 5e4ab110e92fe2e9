package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/adapter/repo"
	"photojobs/internal/domain"
	"photojobs/internal/providers/image"
	"photojobs/internal/storage"
)

var (
	owner = domain.Principal{ID: "u1", Role: domain.UserRoleUser}
	other = domain.Principal{ID: "u2", Role: domain.UserRoleUser}
	admin = domain.Principal{ID: "root", Role: domain.UserRoleAdmin}
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(r domain.JobRepository) *Store {
	if r == nil {
		r = repo.NewMemoryJobRepository()
	}
	return NewStore(r, zerolog.Nop(), WithClock(fixedClock()))
}

func mustCreate(store *Store, p domain.Principal) *domain.Job {
	job, err := store.Create(context.Background(), NormalizedRequest{
		InputReference: "https://example.com/a.jpg",
		JobType:        domain.JobTypePerson,
		Owner:          p,
	})
	if err != nil {
		panic(err)
	}
	return job
}

// flakyRepo fails the first n calls of each kind with an infrastructure error.
type flakyRepo struct {
	domain.JobRepository
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

var errConnReset = errors.New("connection reset by peer")

func newFlakyRepo(failures map[string]int) *flakyRepo {
	return &flakyRepo{
		JobRepository: repo.NewMemoryJobRepository(),
		failures:      failures,
		calls:         map[string]int{},
	}
}

func (f *flakyRepo) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return errConnReset
	}
	return nil
}

func (f *flakyRepo) Create(ctx context.Context, job *domain.Job) error {
	if err := f.fail("create"); err != nil {
		return err
	}
	return f.JobRepository.Create(ctx, job)
}

func (f *flakyRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	return f.JobRepository.Get(ctx, id)
}

// Transition failures are keyed by target status, e.g. "transition:completed".
func (f *flakyRepo) Transition(ctx context.Context, id string, from domain.JobStatus, t domain.Transition) (*domain.Job, error) {
	if err := f.fail("transition:" + string(t.To)); err != nil {
		return nil, err
	}
	return f.JobRepository.Transition(ctx, id, from, t)
}

type stubEnhancer struct {
	outputs []image.Output
	err     error
	panics  bool
	block   bool
	mu      sync.Mutex
	calls   int
	lastReq image.EnhanceRequest
}

func (s *stubEnhancer) Enhance(ctx context.Context, req image.EnhanceRequest) ([]image.Output, error) {
	s.mu.Lock()
	s.calls++
	s.lastReq = req
	s.mu.Unlock()
	if s.panics {
		panic("provider exploded")
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.outputs, s.err
}

type stubPublisher struct {
	err       error
	published map[string][]storage.Artifact
	mu        sync.Mutex
}

func (s *stubPublisher) Publish(ctx context.Context, jobID string, artifacts []storage.Artifact) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published == nil {
		s.published = map[string][]storage.Artifact{}
	}
	s.published[jobID] = artifacts
	urls := make([]string, len(artifacts))
	for i := range artifacts {
		urls[i] = fmt.Sprintf("https://cdn.example.com/static/jobs/%s/%02d.png", jobID, i+1)
	}
	return urls, nil
}

func (s *stubPublisher) Open(ctx context.Context, locator string) ([]byte, error) {
	return []byte("data:" + locator), nil
}

// inlineDispatcher processes synchronously so tests can observe the result.
type inlineDispatcher struct {
	processor JobProcessor
	err       error
	ids       []string
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.ids = append(d.ids, jobID)
	if d.err != nil {
		return d.err
	}
	if d.processor == nil {
		return nil
	}
	return d.processor.Process(context.Background(), jobID)
}
