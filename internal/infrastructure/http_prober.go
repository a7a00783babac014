package infrastructure

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
)

// HTTPProber issues the pre-flight GET of a download and reports the
// response head. The body is never read.
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

// NewHTTPProber creates a prober whose connection attempts give up after
// timeout
func NewHTTPProber(timeout time.Duration, userAgent string) *HTTPProber {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext
	transport.ResponseHeaderTimeout = timeout

	return &HTTPProber{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// Probe implements domain.Prober
func (p *HTTPProber) Probe(ctx context.Context, url string, headers map[string]string) (*domain.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	return &domain.Response{
		Version:    resp.Proto,
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Headers:    cloneHeaders(resp.Header),
	}, nil
}

// reasonPhrase strips the numeric code from the status line
func reasonPhrase(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if strings.HasPrefix(resp.Status, prefix) {
		return strings.TrimPrefix(resp.Status, prefix)
	}
	return http.StatusText(resp.StatusCode)
}

func cloneHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}
