package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker is one dependency checked by /health.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// EndpointChecker checks that the analysis endpoint accepts TCP connections.
// It does not authenticate or spend quota.
type EndpointChecker struct {
	BaseURL string
	Timeout time.Duration
}

func (e *EndpointChecker) Check(ctx context.Context) error {
	addr, err := dialAddr(e.BaseURL)
	if err != nil {
		return err
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("analysis endpoint unreachable: %w", err)
	}
	return conn.Close()
}

func dialAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid base URL %q: missing host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("invalid base URL scheme: %s (allowed: http, https)", u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

const (
	statusUp   = "up"
	statusDown = "down"
)

// HealthHandler runs every checker concurrently and answers 503 when any is down.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var (
			mu     sync.Mutex
			checks = make(map[string]CheckStatus, len(checkers))
		)
		var g errgroup.Group
		for name, checker := range checkers {
			g.Go(func() error {
				start := time.Now()
				err := checker.Check(ctx)
				cs := CheckStatus{Status: statusUp, LatencyMS: time.Since(start).Milliseconds()}
				if err != nil {
					cs.Status = statusDown
					cs.Message = err.Error()
				}
				mu.Lock()
				checks[name] = cs
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		health := HealthStatus{Status: statusUp, Timestamp: time.Now().UTC(), Checks: checks}
		code := http.StatusOK
		for _, cs := range checks {
			if cs.Status == statusDown {
				health.Status = statusDown
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, health)
	}
}

// ReadinessHandler answers 503 with the reason while ready reports an error,
// e.g. when no analysis API key is configured. A nil ready is always ready.
func ReadinessHandler(ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not_ready",
					"reason": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// LivenessHandler only proves the process serves HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
