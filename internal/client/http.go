// Package client holds the HTTP clients for the theatre, movie and user
// services.  Every call is bounded by the timeout of the shared
// *http.Client; a transport failure is reported as ErrUnavailable and a
// response of 400 or above as a *StatusError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound matches a *StatusError carrying 404.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transport failures: refused connections, DNS
	// errors and timeouts.
	ErrUnavailable = errors.New("upstream unavailable")
)

// StatusError reports a response with status 400 or above.
type StatusError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s %s returned %d", e.Service, e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether repeating the call may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether err is worth retrying later.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}

// NewHTTPClient returns the *http.Client shared by the service clients.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type base struct {
	service string
	baseURL string
	http    *http.Client
}

func newBase(service, baseURL string, hc *http.Client) base {
	if hc == nil {
		hc = NewHTTPClient(0)
	}
	return base{service: service, baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// do sends in as JSON (when not nil) and decodes a 2xx body into out (when
// not nil).
func (b base) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", b.service, err)
		}
		body = bytes.NewReader(buf)
	}
	url := b.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", b.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, b.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Service:    b.service,
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", b.service, err)
	}
	return nil
}
