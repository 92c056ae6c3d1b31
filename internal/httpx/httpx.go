// Package httpx holds the HTTP plumbing shared by the comic, VK and X clients.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/sling"
)

// UserAgent is sent on every request.
const UserAgent = "comicpost/1.0 (+https://github.com/mikequentel/comicpost)"

// maxErrBody caps how much of a failed response body is kept for diagnostics.
const maxErrBody = 2048

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewClient returns the client every component shares. A zero timeout means none.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewSling returns a sling rooted at base using client.
func NewSling(client *http.Client, base string) *sling.Sling {
	if client == nil {
		client = http.DefaultClient
	}
	s := sling.New().Client(client).Set("User-Agent", UserAgent)
	if base != "" {
		s = s.Base(base)
	}
	return s
}

// Receive sends the request built by s and decodes a 2xx JSON body into success.
// Any other status becomes a *StatusError carrying a prefix of the body,
// whether or not that body is JSON. An empty 2xx body leaves success untouched.
func Receive(ctx context.Context, s *sling.Sling, success any) error {
	req, err := s.Request()
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req = req.WithContext(ctx)
	var body []byte
	resp, err := s.New().ResponseDecoder(bodyDecoder{}).Do(req, &body, &body)
	if err != nil {
		if resp != nil && !isSuccess(resp.StatusCode) {
			return statusError(req, resp.StatusCode, string(body))
		}
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return statusError(req, resp.StatusCode, string(body))
	}
	if success == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, success); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, redact(req.URL.String()), err)
	}
	return nil
}

// bodyDecoder hands the raw body back so Receive decides how to read it.
type bodyDecoder struct{}

func (bodyDecoder) Decode(resp *http.Response, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("httpx: decode into %T", v)
	}
	b, err := io.ReadAll(resp.Body)
	*p = b
	return err
}

// CheckResponse turns a non-2xx response into a *StatusError, consuming part of the body.
func CheckResponse(resp *http.Response) error {
	if isSuccess(resp.StatusCode) {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return statusError(resp.Request, resp.StatusCode, string(b))
}

func statusError(req *http.Request, code int, body string) error {
	e := &StatusError{StatusCode: code, Body: strings.TrimSpace(truncate(body, maxErrBody))}
	if req != nil {
		e.Method = req.Method
		e.URL = redact(req.URL.String())
	}
	return e
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// redact strips the query string so tokens never reach logs.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
