package recognizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

type stubDescriber struct {
	mu          sync.Mutex
	descriptors map[string]Descriptor
	noFace      map[string]bool
	closed      bool
}

func (s *stubDescriber) DescribeSingle(img []byte) (Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noFace[string(img)] {
		return nil, false, nil
	}
	desc, ok := s.descriptors[string(img)]
	if !ok {
		return nil, false, errors.New("unexpected image")
	}
	return desc, true, nil
}

func (s *stubDescriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func newTestHost(loads *int32, loadErrs int, d Describer) *Host {
	failures := int32(loadErrs)
	return &Host{
		modelsDir: "testdata/models",
		logger:    zap.NewNop(),
		load: func(string) (Describer, error) {
			atomic.AddInt32(loads, 1)
			if atomic.AddInt32(&failures, -1) >= 0 {
				return nil, errors.New("missing model assets")
			}
			return d, nil
		},
	}
}

func TestEnsureLoadsExactlyOnceUnderConcurrency(t *testing.T) {
	var loads int32
	host := newTestHost(&loads, 0, &stubDescriber{})

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = host.Ensure(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected exactly 1 load, got %d", got)
	}
}

func TestEnsureRetriesAfterFailedLoad(t *testing.T) {
	var loads int32
	host := newTestHost(&loads, 1, &stubDescriber{})

	_, err := host.Ensure(context.Background())
	if !kyc.IsKind(err, kyc.ErrModelUnavailable) {
		t.Fatalf("expected model unavailable error, got %v", err)
	}

	if _, err := host.Ensure(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Fatalf("expected 2 load attempts, got %d", got)
	}
}

func TestCompareMatchesBelowThreshold(t *testing.T) {
	var loads int32
	d := &stubDescriber{descriptors: map[string]Descriptor{
		"id":     {0.449999, 0},
		"selfie": {0, 0},
	}}
	engine := NewEngine(newTestHost(&loads, 0, d), 0.45, zap.NewNop())

	cmp, err := engine.Compare(context.Background(), []byte("id"), []byte("selfie"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !cmp.Matches {
		t.Fatalf("expected match for distance %v below threshold %v", cmp.Distance, cmp.Threshold)
	}
	if cmp.Threshold != 0.45 {
		t.Fatalf("expected threshold 0.45, got %v", cmp.Threshold)
	}
}

func TestCompareRejectsAboveThreshold(t *testing.T) {
	var loads int32
	d := &stubDescriber{descriptors: map[string]Descriptor{
		"id":     {0.450001, 0},
		"selfie": {0, 0},
	}}
	engine := NewEngine(newTestHost(&loads, 0, d), 0.45, zap.NewNop())

	cmp, err := engine.Compare(context.Background(), []byte("id"), []byte("selfie"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cmp.Matches {
		t.Fatalf("expected no match for distance %v at threshold %v", cmp.Distance, cmp.Threshold)
	}
}

func TestCompareThresholdBoundaryIsStrict(t *testing.T) {
	// A single-component descriptor yields a distance exactly equal to the
	// component, so threshold==distance exercises the strict comparison.
	var loads int32
	d := &stubDescriber{descriptors: map[string]Descriptor{
		"id":     {0.5},
		"selfie": {0},
	}}
	engine := NewEngine(newTestHost(&loads, 0, d), 0.5, zap.NewNop())

	cmp, err := engine.Compare(context.Background(), []byte("id"), []byte("selfie"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cmp.Distance != 0.5 {
		t.Fatalf("expected distance exactly 0.5, got %v", cmp.Distance)
	}
	if cmp.Matches {
		t.Fatal("distance equal to threshold must not match")
	}
}

func TestCompareFailsWhenNoFaceDetected(t *testing.T) {
	var loads int32
	d := &stubDescriber{
		descriptors: map[string]Descriptor{"id": {0.1}},
		noFace:      map[string]bool{"selfie": true},
	}
	engine := NewEngine(newTestHost(&loads, 0, d), 0.45, zap.NewNop())

	cmp, err := engine.Compare(context.Background(), []byte("id"), []byte("selfie"))
	if !kyc.IsKind(err, kyc.ErrNoFaceDetected) {
		t.Fatalf("expected no face detected error, got %v", err)
	}
	if cmp != nil {
		t.Fatal("expected no comparison result when a face is missing")
	}
}

func TestComparePropagatesModelUnavailable(t *testing.T) {
	var loads int32
	host := newTestHost(&loads, 1, &stubDescriber{})
	engine := NewEngine(host, 0.45, zap.NewNop())

	_, err := engine.Compare(context.Background(), []byte("id"), []byte("selfie"))
	if !kyc.IsKind(err, kyc.ErrModelUnavailable) {
		t.Fatalf("expected model unavailable error, got %v", err)
	}
}

func TestEuclideanDistance(t *testing.T) {
	if got := EuclideanDistance(Descriptor{3, 0}, Descriptor{0, 4}); got != 5 {
		t.Fatalf("expected distance 5, got %v", got)
	}
	if got := EuclideanDistance(Descriptor{1}, Descriptor{1, 2}); !isInf(got) {
		t.Fatalf("expected +Inf for mismatched lengths, got %v", got)
	}
	if got := EuclideanDistance(nil, nil); !isInf(got) {
		t.Fatalf("expected +Inf for empty descriptors, got %v", got)
	}
}

func isInf(f float64) bool {
	return f > 1e308
}
