package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cite-guard/config"
	"cite-guard/metrics"
)

var (
	// ErrNotFound meldet, dass das Register den Identifier nicht kennt. Wird nie wiederholt.
	ErrNotFound = errors.New("registry: not found")
	// ErrTransient meldet, dass alle Versuche an Netzwerk- oder Serverfehlern gescheitert sind.
	ErrTransient = errors.New("registry: transient failure")
)

// StatusError ist eine nicht-wiederholbare HTTP-Antwort (4xx außer 404/429).
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry request %s failed: status %d", e.URL, e.Status)
}

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.UserAgent)
	return t.Transport.RoundTrip(req)
}

// UserAgent baut den höflichen User-Agent mit Kontaktadresse.
func UserAgent(mailto string) string {
	if mailto == "" {
		return "cite-guard/1.0"
	}
	return fmt.Sprintf("cite-guard/1.0 (mailto:%s)", mailto)
}

// Requester führt GET-Anfragen mit Timeout pro Versuch und exponentiellem Backoff aus.
type Requester struct {
	Registry   string
	Client     *http.Client
	Logger     *zap.Logger
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// NewRequester erstellt einen Requester mit den Limits aus der Konfiguration.
func NewRequester(registry string, cfg config.RegistryConfig, logger *zap.Logger) *Requester {
	return &Requester{
		Registry: registry,
		Client: &http.Client{
			Transport: &CustomTransport{Transport: http.DefaultTransport, UserAgent: UserAgent(cfg.CrossrefMailto)},
		},
		Logger:     logger.With(zap.String("registry", registry)),
		Timeout:    cfg.RegistryTimeout,
		MaxRetries: cfg.RegistryMaxRetries,
		BaseDelay:  cfg.RegistryRetryBase,
	}
}

// Get holt url. 404 liefert sofort ErrNotFound; Netzwerkfehler, 429 und 5xx werden bis zu
// MaxRetries-mal wiederholt (Wartezeit BaseDelay, 2*BaseDelay, ...).
func (r *Requester) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.BaseDelay << (attempt - 1)
			r.Logger.Warn("Retrying registry request",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			if err := Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, retry, err := r.do(ctx, url, header)
		if err == nil {
			metrics.RegistryRequests.WithLabelValues(r.Registry, "ok").Inc()
			return body, nil
		}
		if !retry {
			if errors.Is(err, ErrNotFound) {
				metrics.RegistryRequests.WithLabelValues(r.Registry, "not_found").Inc()
			} else {
				metrics.RegistryRequests.WithLabelValues(r.Registry, "error").Inc()
			}
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	metrics.RegistryRequests.WithLabelValues(r.Registry, "transient").Inc()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %v", ErrTransient, lastErr)
}

func (r *Requester) do(ctx context.Context, url string, header http.Header) ([]byte, bool, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	r.Logger.Debug("Calling registry", zap.String("url", url))
	start := time.Now()
	resp, err := r.Client.Do(req)
	metrics.RegistryLatency.WithLabelValues(r.Registry).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &StatusError{Status: resp.StatusCode, URL: url}
	case resp.StatusCode != http.StatusOK:
		return nil, false, &StatusError{Status: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// Sleep wartet d oder bis ctx endet.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
