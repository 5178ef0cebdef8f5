package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single POST to a push service.
const DefaultTimeout = 12 * time.Second

// Result is the outcome of one push request. Transports never return Go
// errors; a failed request has OK false and Err set.
type Result struct {
	OK         bool
	StatusCode int
	Err        string
	Transport  string
}

// Transport posts an empty-body push message to a subscription endpoint.
type Transport interface {
	Post(ctx context.Context, endpoint string, header http.Header) Result
}

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport whose requests time out after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

// NewHTTPTransportWithClient uses client as is, for TLS test servers and custom proxies.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

const transportName = "http"

func (t *HTTPTransport) Post(ctx context.Context, endpoint string, header http.Header) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return Result{Transport: transportName, Err: fmt.Sprintf("build request: %v", err)}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.ContentLength = 0

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{Transport: transportName, Err: err.Error()}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{OK: true, StatusCode: resp.StatusCode, Transport: transportName}
	}

	msg := fmt.Sprintf("push service responded %d", resp.StatusCode)
	if body := strings.TrimSpace(string(snippet)); body != "" {
		msg += ": " + body
	}
	return Result{StatusCode: resp.StatusCode, Transport: transportName, Err: msg}
}
