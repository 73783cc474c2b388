package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "image/gif"
	_ "image/png"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

// Kind tags the shape of an image reference, resolved once at the boundary.
type Kind int

const (
	KindInline Kind = iota
	KindRemote
	KindLocal
)

// Ref is a parsed image reference: an inline base64 payload, a remote URL,
// or a local filesystem path.
type Ref struct {
	Kind  Kind
	Value string
}

// ParseRef classifies a raw reference string. An empty reference fails
// before any I/O is attempted.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, kyc.NewError(kyc.ErrImageSource, "image source missing", nil)
	}
	switch {
	case strings.HasPrefix(raw, "data:"):
		return Ref{Kind: KindInline, Value: raw}, nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Ref{Kind: KindRemote, Value: raw}, nil
	default:
		return Ref{Kind: KindLocal, Value: raw}, nil
	}
}

// maxRemoteImageBytes caps remote downloads so a hostile URL cannot exhaust memory.
const maxRemoteImageBytes = 10 << 20

// Image is a resolved image: the bytes as submitted (hashed at rest) and the
// JPEG-normalized raster handed to the recognition engine.
type Image struct {
	Raw  []byte
	JPEG []byte
}

// Resolver turns image references into decoded images.
type Resolver struct {
	client *http.Client
	logger *zap.Logger
}

// NewResolver builds a resolver whose remote fetches are bounded by fetchTimeout.
func NewResolver(fetchTimeout time.Duration, logger *zap.Logger) *Resolver {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Resolver{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger.Named("imagesource"),
	}
}

// Resolve fetches and decodes a single reference.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Image, error) {
	var (
		raw []byte
		err error
	)
	switch ref.Kind {
	case KindInline:
		raw, err = decodeInline(ref.Value)
	case KindRemote:
		raw, err = r.fetchRemote(ctx, ref.Value)
	case KindLocal:
		raw, err = os.ReadFile(ref.Value)
		if err != nil {
			err = kyc.NewError(kyc.ErrImageSource, "unable to read image file", err)
		}
	default:
		err = kyc.NewError(kyc.ErrImageSource, fmt.Sprintf("unknown image reference kind %d", ref.Kind), nil)
	}
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "image data is not a decodable raster", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "failed to normalize image", err)
	}

	return &Image{Raw: raw, JPEG: buf.Bytes()}, nil
}

// ResolvePair resolves both references concurrently; the first failure
// cancels the other fetch and aborts.
func (r *Resolver) ResolvePair(ctx context.Context, a, b Ref) (*Image, *Image, error) {
	var first, second *Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := r.Resolve(gctx, a)
		if err != nil {
			return err
		}
		first = img
		return nil
	})
	g.Go(func() error {
		img, err := r.Resolve(gctx, b)
		if err != nil {
			return err
		}
		second = img
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

func decodeInline(value string) ([]byte, error) {
	idx := strings.IndexByte(value, ',')
	if idx < 0 {
		return nil, kyc.NewError(kyc.ErrImageSource, "inline image payload malformed", nil)
	}
	payload := value[idx+1:]
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "inline image payload is not valid base64", err)
	}
	return data, nil
}

func (r *Resolver) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "invalid image url", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "unable to download image from url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Warn("image download rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil, kyc.NewError(kyc.ErrImageSource,
			fmt.Sprintf("image download failed with status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes+1))
	if err != nil {
		return nil, kyc.NewError(kyc.ErrImageSource, "failed to read image response", err)
	}
	if len(data) > maxRemoteImageBytes {
		return nil, kyc.NewError(kyc.ErrImageSource, "remote image exceeds size limit", nil)
	}
	return data, nil
}
