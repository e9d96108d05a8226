// Package validate checks a remote libSQL primary before tally commits to
// cloud mode.
//
// The check runs a real query so that the token is actually checked; a bare
// GET against the host is not enough because some deployments answer 200 to
// anything. Failures are reported in four classes so that callers never have
// to interpret the sync engine's own error text for plain unreachability.
package validate

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

// DefaultTimeout bounds the whole check request.
const DefaultTimeout = 30 * time.Second

var (
	// ErrFormat means the URL scheme is not libsql:// or https://.
	ErrFormat = errors.New("invalid sync URL")
	// ErrAuthentication means the server rejected the token (401/403).
	ErrAuthentication = errors.New("authentication failed")
	// ErrServer means the server answered with another non-2xx status.
	ErrServer = errors.New("server error")
	// ErrNetwork means the server could not be reached (DNS, TLS, timeout).
	ErrNetwork = errors.New("network error")
)

// ServerError carries the status of a non-2xx answer. It matches
// ErrAuthentication or ErrServer with errors.Is.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	kind := ErrServer
	if e.auth() {
		kind = ErrAuthentication
	}
	if e.Body == "" {
		return fmt.Sprintf("%v: HTTP %d", kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: HTTP %d: %s", kind, e.StatusCode, e.Body)
}

func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.auth()
	case ErrServer:
		return !e.auth()
	}
	return false
}

func (e *ServerError) auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Validator checks sync credentials against the remote primary.
type Validator struct {
	// Client issues the check request. Its Timeout bounds the request.
	Client *http.Client
}

// New returns a Validator with a DefaultTimeout client.
func New() *Validator {
	return &Validator{Client: &http.Client{Timeout: DefaultTimeout}}
}

// pipelineRequest is the Hrana-over-HTTP body: one SELECT 1 and a close.
type pipelineRequest struct {
	Requests []pipelineStep `json:"requests"`
}

type pipelineStep struct {
	Type string     `json:"type"`
	Stmt *statement `json:"stmt,omitempty"`
}

type statement struct {
	SQL string `json:"sql"`
}

// Validate issues one authenticated query against url.
//
// It returns nil on a 2xx answer, and otherwise an error matching exactly one
// of ErrFormat, ErrAuthentication, ErrServer or ErrNetwork.
func (v *Validator) Validate(ctx context.Context, url, token string) error {
	endpoint, err := PipelineURL(url)
	if err != nil {
		return err
	}

	body, err := json.Marshal(pipelineRequest{Requests: []pipelineStep{
		{Type: "execute", Stmt: &statement{SQL: "SELECT 1"}},
		{Type: "close"},
	}})
	if err != nil {
		return fmt.Errorf("failed to encode check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &ServerError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func (v *Validator) client() *http.Client {
	if v == nil || v.Client == nil {
		return &http.Client{Timeout: DefaultTimeout}
	}
	return v.Client
}

// PipelineURL returns the HTTPS query endpoint for a sync URL. libsql://
// is rewritten to https:// for the check only; the stored URL is unchanged.
func PipelineURL(url string) (string, error) {
	var base string
	switch {
	case strings.HasPrefix(url, "libsql://"):
		base = "https://" + strings.TrimPrefix(url, "libsql://")
	case strings.HasPrefix(url, "https://"):
		base = url
	default:
		return "", fmt.Errorf("%w: %q must start with libsql:// or https://", ErrFormat, url)
	}

	if strings.Trim(strings.TrimPrefix(base, "https://"), "/") == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrFormat, url)
	}
	return strings.TrimSuffix(base, "/") + "/v2/pipeline", nil
}
