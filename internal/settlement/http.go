package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient posts the withdrawal to a fixed settlement endpoint and expects
// a JSON body {"status": int, "data": string}.
type HTTPClient struct {
	url  string
	http *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{url: url, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Settle(ctx context.Context, req Request) Response {
	body, err := json.Marshal(req)
	if err != nil {
		return transportError(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return transportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return transportError(fmt.Errorf("decode settlement response (http %d): %w", res.StatusCode, err))
	}
	return out
}

func transportError(err error) Response {
	return Response{Status: StatusTransportError, Data: err.Error()}
}
