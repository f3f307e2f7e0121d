// Package vision talks to a remote image analysis service and turns its
// responses into captions and keywords.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// DefaultParams requests every feature the normalizer knows how to use.
const DefaultParams = "?visualFeatures=Categories,Tags,Description,Faces,ImageType,Color,Objects,Brands&details=Landmarks&language=en"

// Client submits images to an analyze endpoint.
type Client struct {
	Endpoint string
	Params   string
	Key      string
	HTTP     *http.Client
}

// New returns a client for endpoint, using params as the fixed query string.
func New(endpoint string, params string, key string) *Client {
	return &Client{
		Endpoint: endpoint,
		Params:   params,
		Key:      key,
		HTTP:     &http.Client{Timeout: 120 * time.Second},
	}
}

// URL returns the request URL, including the subscription key.
func (c *Client) URL() string {
	u := c.Endpoint + c.Params
	sep := "&"
	if !strings.Contains(u, "?") {
		sep = "?"
	}
	return u + sep + "subscription-key=" + url.QueryEscape(c.Key)
}

// Analyze posts image bytes and returns the raw JSON response. Failures are
// always returned as *Error.
func (c *Client) Analyze(ctx context.Context, bs []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(bs))
	if err != nil {
		return nil, &Error{Kind: TransportError, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "image/*")

	klog.V(1).Infof("POST %s (%d bytes)", c.Endpoint, len(bs))
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{Kind: TransportError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: TransportError, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.RawMessage(body), nil
	}

	reason := reasonPhrase(resp)
	kind := RequestFailed
	if isQuota(reason) {
		kind = QuotaExceeded
	}

	return nil, &Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Body:       truncate(string(body), maxBodyLog),
	}
}

// reasonPhrase returns the status line text that follows the code, e.g.
// "Quota Exceeded" for "403 Quota Exceeded".
func reasonPhrase(resp *http.Response) string {
	r := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	r = strings.TrimSpace(r)
	if r == "" {
		r = http.StatusText(resp.StatusCode)
	}
	return r
}
