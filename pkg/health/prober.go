// Package health polls a deployed program over HTTP until it answers.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultInterval is the pause between probe attempts.
	DefaultInterval = 500 * time.Millisecond
	// DefaultDeadline bounds a whole Probe call.
	DefaultDeadline = 10 * time.Second
	// DefaultRequestTimeout bounds a single attempt.
	DefaultRequestTimeout = 2 * time.Second
)

// Status is the terminal outcome of probing an address.
type Status int

const (
	// Unready means the deadline elapsed without a non-5xx answer.
	Unready Status = iota
	// Ready means the address answered with a status below 500.
	Ready
)

func (s Status) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Unready"
}

// Result describes how a probe ended.
type Result struct {
	Status Status

	// Attempts is the number of requests issued.
	Attempts int

	// LastStatusCode is the last HTTP status received, 0 if none.
	LastStatusCode int

	// LastErr is the last transport error seen, nil if the final attempt
	// got a response.
	LastErr error

	Elapsed time.Duration
}

// Ready reports whether the probe succeeded.
func (r Result) Ready() bool {
	return r.Status == Ready
}

func (r Result) String() string {
	switch {
	case r.Ready():
		return fmt.Sprintf("ready after %d attempt(s) in %v (status %d)", r.Attempts, r.Elapsed.Round(time.Millisecond), r.LastStatusCode)
	case r.LastStatusCode != 0:
		return fmt.Sprintf("unready after %d attempt(s) in %v (last status %d)", r.Attempts, r.Elapsed.Round(time.Millisecond), r.LastStatusCode)
	case r.LastErr != nil:
		return fmt.Sprintf("unready after %d attempt(s) in %v: %v", r.Attempts, r.Elapsed.Round(time.Millisecond), r.LastErr)
	default:
		return fmt.Sprintf("unready after %d attempt(s) in %v", r.Attempts, r.Elapsed.Round(time.Millisecond))
	}
}

// Prober polls HTTP addresses until they answer or a deadline passes.
type Prober struct {
	client         *http.Client
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Prober
type Option func(*Prober)

// WithInterval sets the pause between attempts
func WithInterval(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each attempt
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProber creates a Prober with a 500ms poll interval.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{
			// a redirect still proves the server is up
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe issues GET requests to address until one returns a status below 500
// or deadline elapses. Transport errors, including connection refused, only
// mean "not yet". A deadline <= 0 uses DefaultDeadline. Cancelling ctx ends
// the probe early with Unready.
func (p *Prober) Probe(ctx context.Context, address string, deadline time.Duration) Result {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	res := Result{Status: Unready}

	for {
		res.Attempts++
		code, err := p.attempt(ctx, address)
		res.LastStatusCode = code
		res.LastErr = err

		if err == nil && code < http.StatusInternalServerError {
			res.Status = Ready
			res.Elapsed = time.Since(start)
			p.logger.Debug("address ready", "address", address, "attempts", res.Attempts, "status", code)
			return res
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Elapsed = time.Since(start)
			if res.LastErr == nil && res.LastStatusCode == 0 {
				res.LastErr = ctx.Err()
			}
			p.logger.Debug("address unready", "address", address, "attempts", res.Attempts, "elapsed", res.Elapsed)
			return res
		case <-timer.C:
		}
	}
}

func (p *Prober) attempt(ctx context.Context, address string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, address, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}
