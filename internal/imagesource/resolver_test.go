package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestParseRefClassifiesShapes(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{"data:image/png;base64,AAAA", KindInline},
		{"http://example.com/id.png", KindRemote},
		{"https://example.com/selfie.jpg", KindRemote},
		{"/tmp/images/id.png", KindLocal},
		{"relative/selfie.jpg", KindLocal},
	}
	for _, tc := range cases {
		ref, err := ParseRef(tc.raw)
		if err != nil {
			t.Fatalf("ParseRef(%q) failed: %v", tc.raw, err)
		}
		if ref.Kind != tc.kind {
			t.Fatalf("ParseRef(%q) kind = %d, want %d", tc.raw, ref.Kind, tc.kind)
		}
	}
}

func TestParseRefRejectsEmptyReference(t *testing.T) {
	_, err := ParseRef("   ")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error, got %v", err)
	}
}

func TestResolveInlinePayload(t *testing.T) {
	raw := testPNG(t)
	ref := Ref{Kind: KindInline, Value: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)}

	r := NewResolver(time.Second, zap.NewNop())
	img, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !bytes.Equal(img.Raw, raw) {
		t.Fatal("expected raw bytes to match the decoded inline payload")
	}
	if len(img.JPEG) == 0 {
		t.Fatal("expected normalized JPEG bytes")
	}
}

func TestResolveInlineRejectsMalformedPayload(t *testing.T) {
	r := NewResolver(time.Second, zap.NewNop())

	if _, err := r.Resolve(context.Background(), Ref{Kind: KindInline, Value: "data:image/png;base64"}); !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error for missing payload, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), Ref{Kind: KindInline, Value: "data:image/png;base64,!!!not-base64"}); !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error for bad base64, got %v", err)
	}
}

func TestResolveRemoteURL(t *testing.T) {
	raw := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	r := NewResolver(time.Second, zap.NewNop())
	img, err := r.Resolve(context.Background(), Ref{Kind: KindRemote, Value: srv.URL})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !bytes.Equal(img.Raw, raw) {
		t.Fatal("expected raw bytes to match the response body")
	}
}

func TestResolveRemoteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewResolver(time.Second, zap.NewNop())
	_, err := r.Resolve(context.Background(), Ref{Kind: KindRemote, Value: srv.URL})
	if !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error, got %v", err)
	}
}

func TestResolveRemoteTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	r := NewResolver(50*time.Millisecond, zap.NewNop())
	start := time.Now()
	_, err := r.Resolve(context.Background(), Ref{Kind: KindRemote, Value: srv.URL})
	if !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fetch did not respect the bounded timeout, took %v", elapsed)
	}
}

func TestResolveLocalPath(t *testing.T) {
	raw := testPNG(t)
	path := filepath.Join(t.TempDir(), "id.png")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("failed to write temp image: %v", err)
	}

	r := NewResolver(time.Second, zap.NewNop())
	img, err := r.Resolve(context.Background(), Ref{Kind: KindLocal, Value: path})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !bytes.Equal(img.Raw, raw) {
		t.Fatal("expected raw bytes to match the file contents")
	}
}

func TestResolveRejectsUndecodableBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-image.bin")
	if err := os.WriteFile(path, []byte("definitely not a raster"), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	r := NewResolver(time.Second, zap.NewNop())
	_, err := r.Resolve(context.Background(), Ref{Kind: KindLocal, Value: path})
	if !kyc.IsKind(err, kyc.ErrImageSource) {
		t.Fatalf("expected image source error, got %v", err)
	}
}

func TestResolvePairAbortsOnEitherFailure(t *testing.T) {
	raw := testPNG(t)
	good := filepath.Join(t.TempDir(), "good.png")
	if err := os.WriteFile(good, raw, 0o600); err != nil {
		t.Fatalf("failed to write temp image: %v", err)
	}

	r := NewResolver(time.Second, zap.NewNop())
	_, _, err := r.ResolvePair(context.Background(),
		Ref{Kind: KindLocal, Value: good},
		Ref{Kind: KindLocal, Value: filepath.Join(t.TempDir(), "missing.png")},
	)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var kycErr *kyc.Error
	if !errors.As(err, &kycErr) {
		t.Fatalf("expected pipeline error, got %T", err)
	}
}

func TestResolvePairReturnsBothImages(t *testing.T) {
	raw := testPNG(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, raw, 0o600); err != nil {
			t.Fatalf("failed to write temp image: %v", err)
		}
	}

	r := NewResolver(time.Second, zap.NewNop())
	a, b, err := r.ResolvePair(context.Background(),
		Ref{Kind: KindLocal, Value: first},
		Ref{Kind: KindLocal, Value: second},
	)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if a == nil || b == nil {
		t.Fatal("expected both images to be resolved")
	}
}
