// Package source resolves image URIs into byte streams.  Supported schemes
// are file:// (and bare paths), data: with a base64 payload, and http(s)://.
// Host-resolver schemes such as content:// have no meaning outside the
// original host platform and are rejected with a typed error.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/utils"
)

const (
	schemeFile  = "file"
	schemeData  = "data"
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// Resolved is an opened source stream plus the hints gathered while
// resolving it.  The caller owns Reader and must close it.
type Resolved struct {
	Reader      io.ReadCloser
	ContentType string // empty when unknown
	Name        string // logical name derived from the uri
	Size        int64  // -1 when unknown
}

// Resolver dispatches URIs by scheme.  The zero value is usable; NewResolver
// applies the usual HTTP timeout and the per-source size cap.
type Resolver struct {
	Client *http.Client
	// MaxBytes caps how much any resolved source may yield.  0 means no cap.
	MaxBytes int64
}

// NewResolver returns a Resolver with an HTTP client bound to the given
// timeout and a size cap applied to every resolved stream.  A zero timeout or
// cap means no limit.
func NewResolver(httpTimeout time.Duration, maxBytes int64) *Resolver {
	return &Resolver{Client: &http.Client{Timeout: httpTimeout}, MaxBytes: maxBytes}
}

// Resolve opens the stream behind uri.  The returned reader enforces the
// resolver's size cap regardless of scheme.
func (rv *Resolver) Resolve(ctx context.Context, uri string) (*Resolved, error) {
	if uri == "" {
		return nil, apperrors.New(apperrors.CategorySource, "resolve", apperrors.ErrEmptyURI)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "resolve.parse", err)
	}

	var res *Resolved
	switch u.Scheme {
	case "", schemeFile:
		res, err = resolveFile(u, uri)
	case schemeData:
		res, err = resolveData(u)
	case schemeHTTP, schemeHTTPS:
		res, err = rv.resolveHTTP(ctx, uri)
	default:
		return nil, apperrors.New(apperrors.CategorySource, "resolve",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedScheme, u.Scheme))
	}
	if err != nil {
		return nil, err
	}
	return rv.cap(res)
}

// cap rejects sources whose declared size exceeds the cap and wraps the
// stream so undeclared oversize fails mid-read instead of buffering.
func (rv *Resolver) cap(res *Resolved) (*Resolved, error) {
	if rv.MaxBytes <= 0 {
		return res, nil
	}
	if res.Size > rv.MaxBytes {
		res.Reader.Close()
		return nil, apperrors.New(apperrors.CategorySource, "resolve",
			fmt.Errorf("%w: %d bytes over cap of %d", apperrors.ErrSourceTooLarge, res.Size, rv.MaxBytes))
	}
	res.Reader = &cappedReadCloser{
		LimitedReader: utils.LimitedReader{R: res.Reader, Max: rv.MaxBytes},
		close:         res.Reader.Close,
	}
	return res, nil
}

type cappedReadCloser struct {
	utils.LimitedReader
	close func() error
}

func (c *cappedReadCloser) Close() error { return c.close() }

// ResolveBytes resolves uri and drains the stream into memory.  Streams that
// run past the resolver's size cap fail with ErrSourceTooLarge.
func (rv *Resolver) ResolveBytes(ctx context.Context, uri string) ([]byte, *Resolved, error) {
	res, err := rv.Resolve(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	defer res.Reader.Close()
	data, err := io.ReadAll(res.Reader)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: cap is %d bytes", apperrors.ErrSourceTooLarge, rv.MaxBytes)
		}
		return nil, nil, apperrors.Wrap(apperrors.CategorySource, "resolve.read", err)
	}
	return data, res, nil
}

func resolveFile(u *url.URL, raw string) (*Resolved, error) {
	p := u.Path
	if u.Scheme == "" {
		// Bare filesystem path, possibly relative.
		p = raw
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "resolve.file", err)
	}
	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	return &Resolved{
		Reader: f,
		Name:   filepath.Base(p),
		Size:   size,
	}, nil
}

// resolveData parses a data URI of the form
// data:image/png;base64,iVBORw0KGgoAA... with a mandatory base64 payload.
func resolveData(u *url.URL) (*Resolved, error) {
	payload := u.Opaque
	comma := strings.IndexByte(payload, ',')
	if comma < 0 {
		return nil, apperrors.New(apperrors.CategorySource, "resolve.data",
			fmt.Errorf("data uri missing comma separator"))
	}

	mimeType := strings.ToLower(strings.Replace(payload[:comma], "\\", "/", -1))
	mimeType = strings.TrimSuffix(mimeType, ";base64")
	isJPEG := strings.HasPrefix(mimeType, "image/jpeg")
	isPNG := !isJPEG && strings.HasPrefix(mimeType, "image/png")
	if !isJPEG && !isPNG {
		return nil, apperrors.New(apperrors.CategorySource, "resolve.data",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mimeType))
	}

	data, err := base64.StdEncoding.DecodeString(payload[comma+1:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "resolve.data.base64", err)
	}
	return &Resolved{
		Reader:      io.NopCloser(bytes.NewReader(data)),
		ContentType: mimeType,
		Size:        int64(len(data)),
	}, nil
}

func (rv *Resolver) resolveHTTP(ctx context.Context, uri string) (*Resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySource, "resolve.http", err)
	}
	client := rv.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.Transient("resolve.http", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.Transient("resolve.http",
			fmt.Errorf("unexpected status %s for %s", resp.Status, uri))
	}

	name := path.Base(req.URL.Path)
	if name == "/" || name == "." {
		name = ""
	}
	return &Resolved{
		Reader:      resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Name:        name,
		Size:        resp.ContentLength,
	}, nil
}

// IsLocal reports whether uri refers to the local filesystem.
func IsLocal(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.Scheme == "" || u.Scheme == schemeFile
}
