// Package source provides the frame-and-track feeds consumed by the
// pipeline. A Source yields decoded frames together with the confirmed
// tracks produced for them by an external tracker.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/crowdcount/zonecount/internal/overlay"
	"github.com/crowdcount/zonecount/pkg/types"
)

var (
	// ErrEndOfStream is returned by Next when a finite source is exhausted.
	ErrEndOfStream = errors.New("source: end of stream")
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("source: closed")
	// ErrFrameSkipped wraps a failure confined to one frame. The source stays
	// usable and the next call moves on to the following frame.
	ErrFrameSkipped = errors.New("source: frame skipped")
	// ErrInvalidURI is returned for a uri no source can be opened from.
	ErrInvalidURI = errors.New("source: invalid uri")
)

// Source yields frames. Next blocks until a frame is available, the context
// is done, or the source fails.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
	Name() string
}

// Options tunes sources opened by an Opener.
type Options struct {
	FPS  float64
	Loop bool
}

// Opener resolves source URIs. The push hub is shared by every "push"
// source it opens so ingest clients survive producer restarts. A non-empty
// ReplayRoot confines replay directories to that tree; relative replay
// paths are resolved under it.
type Opener struct {
	Push       *PushSource
	Options    Options
	ReplayRoot string
}

type target struct {
	scheme  string
	dir     string
	w, h, n int
}

// Check validates uri without opening anything, so a missing replay
// directory still passes.
func (o *Opener) Check(uri string) error {
	_, err := o.resolve(uri)
	return err
}

// Open resolves uri:
//
//	replay:<dir>            frames from dir plus tracks.jsonl
//	push                    frames posted to the ingest endpoint
//	synthetic[:WxH[:N]]     generated test pattern with N walkers
func (o *Opener) Open(uri string) (Source, error) {
	t, err := o.resolve(uri)
	if err != nil {
		return nil, err
	}
	switch t.scheme {
	case "replay":
		return OpenReplay(t.dir, o.Options)
	case "push":
		return o.Push, nil
	}
	return NewSynthetic(t.w, t.h, t.n, o.Options.FPS), nil
}

func (o *Opener) resolve(uri string) (target, error) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(uri), ":")
	t := target{scheme: strings.ToLower(scheme)}
	switch t.scheme {
	case "replay":
		rest = strings.TrimPrefix(rest, "//")
		if rest == "" {
			return t, fmt.Errorf("%w: replay needs a directory", ErrInvalidURI)
		}
		dir, err := confine(o.ReplayRoot, rest)
		if err != nil {
			return t, err
		}
		t.dir = dir
		return t, nil
	case "push":
		if o.Push == nil {
			return t, fmt.Errorf("%w: push ingest is not enabled", ErrInvalidURI)
		}
		return t, nil
	case "synthetic":
		var err error
		t.w, t.h, t.n, err = parseSynthetic(rest)
		return t, err
	case "":
		return t, fmt.Errorf("%w: empty uri", ErrInvalidURI)
	}
	return t, fmt.Errorf("%w: unsupported uri %q", ErrInvalidURI, uri)
}

// confine resolves dir against root and rejects anything outside it.
func confine(root, dir string) (string, error) {
	if root == "" {
		return dir, nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("source: replay root: %w", err)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(absRoot, dir)
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s is outside the replay root %s", ErrInvalidURI, dir, absRoot)
	}
	return dir, nil
}

func parseSynthetic(param string) (int, int, int, error) {
	w, h, n := 640, 480, 6
	if param == "" {
		return w, h, n, nil
	}
	size, count, hasCount := strings.Cut(param, ":")
	if size != "" {
		ws, hs, ok := strings.Cut(strings.ToLower(size), "x")
		if !ok {
			return 0, 0, 0, fmt.Errorf("%w: bad synthetic size %q", ErrInvalidURI, size)
		}
		var err1, err2 error
		w, err1 = strconv.Atoi(ws)
		h, err2 = strconv.Atoi(hs)
		if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
			return 0, 0, 0, fmt.Errorf("%w: bad synthetic size %q", ErrInvalidURI, size)
		}
	}
	if hasCount {
		c, err := strconv.Atoi(count)
		if err != nil || c < 0 {
			return 0, 0, 0, fmt.Errorf("%w: bad synthetic walker count %q", ErrInvalidURI, count)
		}
		n = c
	}
	return w, h, n, nil
}

// DecodeImage decodes a JPEG, PNG, BMP or WebP image into RGBA.
func DecodeImage(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return overlay.ToRGBA(img), nil
}
