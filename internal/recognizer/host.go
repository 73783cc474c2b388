package recognizer

import (
	"context"
	"sync"

	face "github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

// Descriptor is the fixed-length feature vector extracted for a detected face.
type Descriptor []float32

// Describer extracts a descriptor for the single face in a JPEG image.
// ok is false when the image does not contain exactly one detectable face.
type Describer interface {
	DescribeSingle(imgJPEG []byte) (desc Descriptor, ok bool, err error)
	Close()
}

type loaderFunc func(modelsDir string) (Describer, error)

// Host owns the lifecycle of the recognition model. The underlying dlib
// networks (detector, shape predictor, descriptor extractor) are expensive
// to initialize, so the first caller loads them and every later caller
// reuses the same instance. A failed load is not cached: the next request
// retries until a load succeeds.
type Host struct {
	mu        sync.Mutex
	modelsDir string
	load      loaderFunc
	describer Describer
	logger    *zap.Logger
}

// NewHost builds a host that loads the dlib-backed recognizer from modelsDir.
func NewHost(modelsDir string, logger *zap.Logger) *Host {
	return &Host{
		modelsDir: modelsDir,
		load:      dlibLoader,
		logger:    logger.Named("recognizer_host"),
	}
}

// Ensure returns the loaded describer, performing the one-time initialization
// if needed. The mutex serializes concurrent first callers so exactly one
// load happens; everyone else blocks until it completes and then observes
// the loaded instance.
func (h *Host) Ensure(ctx context.Context) (Describer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.describer != nil {
		return h.describer, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, kyc.NewError(kyc.ErrModelUnavailable, "model load cancelled", err)
	}

	d, err := h.load(h.modelsDir)
	if err != nil {
		h.logger.Error("failed to load recognition models",
			zap.String("models_dir", h.modelsDir),
			zap.Error(err))
		return nil, kyc.NewError(kyc.ErrModelUnavailable, "cannot load face recognition models", err)
	}

	h.describer = d
	h.logger.Info("recognition models loaded", zap.String("models_dir", h.modelsDir))
	return h.describer, nil
}

// Close releases the loaded model, if any.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.describer != nil {
		h.describer.Close()
		h.describer = nil
	}
}

func dlibLoader(modelsDir string) (Describer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, err
	}
	return &dlibDescriber{rec: rec}, nil
}

type dlibDescriber struct {
	rec *face.Recognizer
}

func (d *dlibDescriber) DescribeSingle(imgJPEG []byte) (Descriptor, bool, error) {
	f, err := d.rec.RecognizeSingle(imgJPEG)
	if err != nil {
		return nil, false, err
	}
	if f == nil {
		return nil, false, nil
	}
	desc := make(Descriptor, len(f.Descriptor))
	for i, v := range f.Descriptor {
		desc[i] = v
	}
	return desc, true, nil
}

func (d *dlibDescriber) Close() {
	d.rec.Close()
}
