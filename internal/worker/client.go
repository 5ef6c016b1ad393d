package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// EndpointType names the LLM-serving endpoint shape a Credit targets.
type EndpointType string

const (
	EndpointChatCompletions EndpointType = "chat_completions"
	EndpointCompletions     EndpointType = "completions"
	EndpointEmbeddings      EndpointType = "embeddings"
	EndpointRankings        EndpointType = "rankings"
)

// Client is the single keep-alive HTTP client a Worker uses for every
// credit it services. One Client per Worker, never per-request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

// NewClient builds a Client with one shared, tuned *http.Transport. The
// MaxIdleConnsPerHost=1/MaxConnsPerHost=1 pairing is deliberate: §4.4
// requires a single keep-alive connection per endpoint, not a pool sized
// for parallelism (a Worker services one credit at a time).
func NewClient(baseURL string, headers map[string]string, cfg TransportConfig) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialContext(ctx, cfg, network, addr)
		},
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		baseURL:    baseURL,
		headers:    headers,
	}
}

// Do issues exactly one HTTP request for one credit attempt: no internal
// retry, per §4.4's "exactly one record per attempt" requirement. The
// caller is responsible for classifying the returned error into an
// ErrorDetails category.
func (c *Client) Do(ctx context.Context, endpoint EndpointType, body map[string]any, stream bool) (*http.Response, error) {
	base := strings.TrimSuffix(c.baseURL, "/")
	path := endpointPath(endpoint)
	if strings.HasSuffix(base, "/v1") {
		path = strings.TrimPrefix(path, "/v1")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("worker: encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("worker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// endpointPath maps e to its "/v1/..." request path, defaulting to chat
// completions. Do drops the leading "/v1" when the base URL already ends
// in one, the way a benchmark operator's base URL commonly does.
func endpointPath(e EndpointType) string {
	switch e {
	case EndpointCompletions:
		return "/v1/completions"
	case EndpointEmbeddings:
		return "/v1/embeddings"
	case EndpointRankings:
		return "/v1/rankings"
	default:
		return "/v1/chat/completions"
	}
}

// drainAndClose fully reads and closes body, the non-streaming read path.
func drainAndClose(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	return io.ReadAll(body)
}
