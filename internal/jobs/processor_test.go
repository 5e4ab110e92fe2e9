package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/domain"
	"photojobs/internal/providers/image"
)

func newTestProcessor(store *Store, enh image.Enhancer, pub ResultPublisher) *Processor {
	return NewProcessor(store, enh, pub, time.Second, zerolog.Nop())
}

func TestProcessorCompletesJob(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	enh := &stubEnhancer{outputs: []image.Output{{Data: []byte("a"), MIME: "image/png"}, {URL: "https://replicate.delivery/out.png"}}}
	pub := &stubPublisher{}

	if err := newTestProcessor(store, enh, pub).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	got, err := store.Get(context.Background(), job.ID, owner)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 {
		t.Fatalf("job = %s/%d, want completed/100", got.Status, got.Progress)
	}
	if len(got.Result) != 2 || !strings.Contains(got.Result[0], job.ID) {
		t.Fatalf("Result = %v", got.Result)
	}
	if arts := pub.published[job.ID]; len(arts) != 2 || arts[1].SourceURL != "https://replicate.delivery/out.png" {
		t.Fatalf("published = %+v", arts)
	}
	if enh.lastReq.JobType != domain.JobTypePerson || enh.lastReq.Settings.Quantity != 1 {
		t.Fatalf("enhance request = %+v", enh.lastReq)
	}
}

func TestProcessorInferenceFailure(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	enh := &stubEnhancer{err: errors.New("model overloaded")}

	if err := newTestProcessor(store, enh, &stubPublisher{}).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "model overloaded") || got.Result != nil {
		t.Fatalf("failed job = %+v", got)
	}
}

func TestProcessorPublishFailure(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	enh := &stubEnhancer{outputs: []image.Output{{Data: []byte("a")}}}
	pub := &stubPublisher{err: errors.New("disk full")}

	if err := newTestProcessor(store, enh, pub).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed || !strings.Contains(got.Error, "upload") {
		t.Fatalf("job = %s %q, want failed upload", got.Status, got.Error)
	}
}

func TestProcessorCompletionWriteFailureFailsJob(t *testing.T) {
	flaky := newFlakyRepo(map[string]int{"transition:completed": 2})
	store := newTestStore(flaky)
	job := mustCreate(store, owner)
	enh := &stubEnhancer{outputs: []image.Output{{Data: []byte("a")}}}

	if err := newTestProcessor(store, enh, &stubPublisher{}).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, err := store.Get(context.Background(), job.ID, owner)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error != "persist result: storage transition: connection reset by peer" {
		t.Fatalf("Error = %q", got.Error)
	}
	if got.Result != nil {
		t.Fatalf("Result = %v, want none", got.Result)
	}
	if n := flaky.calls["transition:completed"]; n != 2 {
		t.Fatalf("completed attempts = %d, want 2", n)
	}
	if n := flaky.calls["transition:failed"]; n != 1 {
		t.Fatalf("failed attempts = %d, want 1", n)
	}
}

func TestProcessorEmptyOutputFails(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)

	_ = newTestProcessor(store, &stubEnhancer{}, &stubPublisher{}).Process(context.Background(), job.ID)
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed || !strings.Contains(got.Error, "no images") {
		t.Fatalf("job = %s %q", got.Status, got.Error)
	}
}

func TestProcessorTimeout(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	p := NewProcessor(store, &stubEnhancer{block: true}, &stubPublisher{}, 20*time.Millisecond, zerolog.Nop())

	if err := p.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed || !strings.Contains(got.Error, "timed out") {
		t.Fatalf("job = %s %q, want timeout failure", got.Status, got.Error)
	}
}

func TestProcessorRecoversPanic(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)

	if err := newTestProcessor(store, &stubEnhancer{panics: true}, &stubPublisher{}).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if strings.Contains(got.Error, "exploded") {
		t.Fatalf("panic value leaked into error: %q", got.Error)
	}
}

func TestProcessorIsIdempotent(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	enh := &stubEnhancer{outputs: []image.Output{{Data: []byte("a")}}}
	p := newTestProcessor(store, enh, &stubPublisher{})

	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), job.ID); err != nil {
			t.Fatalf("Process #%d error: %v", i, err)
		}
	}
	if enh.calls != 1 {
		t.Fatalf("enhancer calls = %d, want 1", enh.calls)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestProcessorSurvivesCancelledContext(t *testing.T) {
	store := newTestStore(nil)
	job := mustCreate(store, owner)
	ctx, cancel := context.WithCancel(context.Background())
	enh := image.EnhancerFunc(func(context.Context, image.EnhanceRequest) ([]image.Output, error) {
		cancel()
		return nil, context.Canceled
	})

	if err := newTestProcessor(store, enh, &stubPublisher{}).Process(ctx, job.ID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID, owner)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed even after cancellation", got.Status)
	}
}

func TestFailureMessageTruncates(t *testing.T) {
	msg := failureMessage(errors.New(strings.Repeat("é", maxErrorMessageLength)))
	if len(msg) > maxErrorMessageLength {
		t.Fatalf("len = %d", len(msg))
	}
	if !strings.HasPrefix(msg, "é") || strings.ContainsRune(msg, '�') {
		t.Fatalf("message not valid utf-8 prefix: %q", msg[:8])
	}
}
