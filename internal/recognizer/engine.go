package recognizer

import (
	"context"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bourraOmar/Tirelire/internal/kyc"
	"github.com/bourraOmar/Tirelire/internal/logging"
)

// DefaultThreshold is the distance below which two descriptors are
// considered the same identity.
const DefaultThreshold = 0.45

// Comparison is the outcome of comparing two face images. Distance and
// Threshold are always populated so failures stay explainable downstream.
type Comparison struct {
	Distance  float64
	Threshold float64
	Matches   bool
}

// Engine computes face similarity decisions on top of a model host.
type Engine struct {
	host      *Host
	threshold float64
	logger    *zap.Logger
}

// NewEngine builds an engine with the configured match threshold.
// Non-positive thresholds fall back to DefaultThreshold.
func NewEngine(host *Host, threshold float64, logger *zap.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{
		host:      host,
		threshold: threshold,
		logger:    logger.Named("recognizer_engine"),
	}
}

// Compare extracts one descriptor per image and applies the threshold to
// their euclidean distance. Matching is strict: a distance exactly at the
// threshold does not match.
func (e *Engine) Compare(ctx context.Context, idJPEG, selfieJPEG []byte) (*Comparison, error) {
	d, err := e.host.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	var idDesc, selfieDesc Descriptor
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		desc, err := describeOne(d, idJPEG)
		if err != nil {
			return err
		}
		idDesc = desc
		return nil
	})
	g.Go(func() error {
		desc, err := describeOne(d, selfieJPEG)
		if err != nil {
			return err
		}
		selfieDesc = desc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	distance := EuclideanDistance(idDesc, selfieDesc)
	cmp := &Comparison{
		Distance:  distance,
		Threshold: e.threshold,
		Matches:   distance < e.threshold,
	}
	e.logger.Debug("descriptors compared",
		zap.Float64("distance", cmp.Distance),
		zap.Float64("threshold", cmp.Threshold),
		zap.Bool("matches", cmp.Matches))
	return cmp, nil
}

func describeOne(d Describer, imgJPEG []byte) (Descriptor, error) {
	desc, ok, err := d.DescribeSingle(imgJPEG)
	if err != nil {
		return nil, logging.NewOperationError("recognizer.describe", "", err)
	}
	if !ok {
		return nil, kyc.NewError(kyc.ErrNoFaceDetected, "unable to detect a single face in the image", nil)
	}
	return desc, nil
}

// EuclideanDistance computes the L2 distance between two descriptors.
// Mismatched lengths yield +Inf so they can never match.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
