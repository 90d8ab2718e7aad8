package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Exporter uploads a finished game's PGN to a game-archive service and
// returns the public URL of the imported game.
type Exporter interface {
	Export(ctx context.Context, pgn string) (string, error)
}

type HTTPExporter struct {
	importURL string
	http      *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type ExporterOption func(*HTTPExporter)

func WithTimeout(d time.Duration) ExporterOption {
	return func(e *HTTPExporter) { e.timeout = d }
}

func WithRetry(max int) ExporterOption {
	return func(e *HTTPExporter) { e.retryMax = max }
}

// NewHTTPExporter targets an import endpoint that accepts a form-encoded
// "pgn" field, lichess.org/import style.
func NewHTTPExporter(importURL string, opts ...ExporterOption) *HTTPExporter {
	e := &HTTPExporter{
		importURL: strings.TrimSpace(importURL),
		http:      &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 8},
		timeout:   15 * time.Second,
		retryMax:  3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPExporter) Export(ctx context.Context, pgn string) (string, error) {
	if strings.TrimSpace(pgn) == "" {
		return "", errors.New("empty pgn")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(e.importURL)
	req.Header.SetContentType("application/x-www-form-urlencoded")

	form := url.Values{}
	form.Set("pgn", pgn)
	req.SetBodyString(form.Encode())

	attempts := e.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := e.http.DoDeadline(req, resp, e.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("import request failed: %w", err)
			if attempt == attempts {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 300 && status < 400:
			// Form import endpoints answer with a redirect to the game page.
			loc := strings.TrimSpace(string(resp.Header.Peek(fasthttp.HeaderLocation)))
			if loc == "" {
				return "", fmt.Errorf("import redirect without location (status=%d)", status)
			}
			return e.resolveLocation(loc)
		case status >= 200 && status < 300:
			var payload struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(resp.Body(), &payload); err == nil && strings.TrimSpace(payload.URL) != "" {
				return payload.URL, nil
			}
			return "", fmt.Errorf("import response missing url: %s", truncate(string(resp.Body()), 256))
		default:
			lastErr = fmt.Errorf("import error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if attempt == attempts || !shouldRetryStatus(status) {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown import error")
	}
	return "", lastErr
}

func (e *HTTPExporter) resolveLocation(loc string) (string, error) {
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("parse import location: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(e.importURL)
	if err != nil {
		return "", fmt.Errorf("parse import url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (e *HTTPExporter) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(e.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
