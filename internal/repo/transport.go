package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/imroc/req/v3"

	"github.com/vitorhnn/nimble/internal/version"
)

// Transport is the injected fetch capability the sync core depends on:
// whole-resource GETs and byte-range GETs rooted at a remote repository
// base URL. The core never implements HTTP itself.
type Transport interface {
	// Get fetches a whole resource. The caller owns the returned body.
	Get(ctx context.Context, relPath string) (io.ReadCloser, error)
	// GetRange fetches length bytes starting at start.
	GetRange(ctx context.Context, relPath string, start, length uint64) ([]byte, error)
}

// AuthSetter is implemented by transports that can adopt credentials
// discovered in the repository description after the first fetch.
type AuthSetter interface {
	SetBasicAuth(username, password string)
}

// TransportError classifies a failed fetch. Transient failures (connection
// resets, timeouts, 5xx) are retried by the scheduler; permanent ones
// (not found, auth) are surfaced immediately.
type TransportError struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s error fetching %s: status %d", kind, e.URL, e.Status)
	}
	return fmt.Sprintf("transport: %s error fetching %s: %v", kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable transport failure. A
// connection that dies mid-body surfaces as a plain read error from the
// response stream rather than a classified TransportError, so resets,
// timeouts and truncated bodies are recognized here directly.
func IsTransient(err error) bool {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Transient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func transientStatus(status int) bool {
	switch status {
	case 408, 429:
		return true
	default:
		return status >= 500
	}
}

const DefaultFetchTimeout = 5 * time.Minute

// HTTPTransport implements Transport over HTTP(S). Retry policy lives in
// the scheduler's bounded-attempt state machine, so the client's own retry
// is disabled.
type HTTPTransport struct {
	client  *req.Client
	baseURL string
}

type HTTPTransportOption func(*HTTPTransport)

// WithBasicAuth passes pre-supplied repository credentials through to
// every request.
func WithBasicAuth(username, password string) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.SetCommonBasicAuth(username, password)
	}
}

// WithFetchTimeout bounds each individual fetch. The sync pass as a whole
// is only bounded by its context.
func WithFetchTimeout(timeout time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.SetTimeout(timeout)
	}
}

func NewHTTPTransport(baseURL string, opts ...HTTPTransportOption) *HTTPTransport {
	client := req.C().
		SetUserAgent(fmt.Sprintf("%s/%s (like Swifty)", version.AppName, version.Version)).
		SetCommonRetryCount(0).
		SetTimeout(DefaultFetchTimeout)

	t := &HTTPTransport{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetBasicAuth applies credentials to every subsequent request.
func (t *HTTPTransport) SetBasicAuth(username, password string) {
	t.client.SetCommonBasicAuth(username, password)
}

func (t *HTTPTransport) resourceURL(relPath string) string {
	segments := strings.Split(strings.TrimLeft(relPath, "/"), "/")
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return t.baseURL + "/" + strings.Join(escaped, "/")
}

func (t *HTTPTransport) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	resourceURL := t.resourceURL(relPath)

	resp, err := t.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(resourceURL)
	if err != nil {
		return nil, &TransportError{URL: resourceURL, Transient: true, Err: err}
	}

	if resp.IsErrorState() {
		resp.Body.Close()
		return nil, &TransportError{
			URL:       resourceURL,
			Status:    resp.StatusCode,
			Transient: transientStatus(resp.StatusCode),
		}
	}

	return resp.Body, nil
}

func (t *HTTPTransport) GetRange(ctx context.Context, relPath string, start, length uint64) ([]byte, error) {
	resourceURL := t.resourceURL(relPath)

	if length == 0 {
		return nil, &TransportError{URL: resourceURL, Err: errors.New("zero-length range")}
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1)).
		Get(resourceURL)
	if err != nil {
		return nil, &TransportError{URL: resourceURL, Transient: true, Err: err}
	}

	if resp.IsErrorState() {
		return nil, &TransportError{
			URL:       resourceURL,
			Status:    resp.StatusCode,
			Transient: transientStatus(resp.StatusCode),
		}
	}

	// a server that ignores Range would hand back the whole file; treating
	// that as ranged data would corrupt the patch
	if resp.StatusCode != 206 {
		return nil, &TransportError{
			URL:    resourceURL,
			Status: resp.StatusCode,
			Err:    errors.New("server does not support byte ranges"),
		}
	}

	body := resp.Bytes()
	if uint64(len(body)) != length {
		return nil, &TransportError{
			URL: resourceURL,
			Err: fmt.Errorf("range returned %d bytes, want %d", len(body), length),
		}
	}

	return body, nil
}

var _ Transport = (*HTTPTransport)(nil)
