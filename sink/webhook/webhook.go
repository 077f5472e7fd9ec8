// Package webhook posts events as signed JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/sink"
)

// Payload is the JSON body of a webhook request.
type Payload struct {
	Version string               `json:"ver"`
	Sent    int64                `json:"iat"` // Unix time.
	Event   kidwatch.EventRecord `json:"event"`
}

// Poster holds the endpoint and keys, and sends events.
type Poster struct {
	// If you need custom HTTP handling, e.g. for proxy settings, you can
	// override the default HTTPClient.
	HTTPClient *http.Client
	URL        string

	apiKey  string
	hmacKey []byte
}

// Ensure Poster implements sink.Backend.
var _ sink.Backend = (*Poster)(nil)

// NewPoster makes a new Poster. If hmacKey is not empty, it must be hex
// encoded, and requests carry a signature header.
func NewPoster(url, apiKey, hmacKey string) (*Poster, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	hmacKeyBuf, err := hex.DecodeString(hmacKey)
	if err != nil {
		return nil, fmt.Errorf("parsing hmac key: %v", err)
	}
	return &Poster{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		URL:        url,
		apiKey:     apiKey,
		hmacKey:    hmacKeyBuf,
	}, nil
}

// Sign returns the hex encoded HMAC-SHA256 of buf with key.
func Sign(key, buf []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}

// Write posts ev. For HTTP-related errors, the (wrapped) underlying errors
// from net/http or an HTTPError can be returned.
func (p *Poster) Write(ctx context.Context, ev kidwatch.EventRecord) error {
	data := Payload{
		Version: "v1",
		Sent:    time.Now().Unix(),
		Event:   ev,
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data to JSON: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.URL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("new HTTP request: %v", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("x-event-id", ev.ID)
	req.Header.Add("x-timestamp", strconv.FormatInt(data.Sent, 10))
	if p.apiKey != "" {
		req.Header.Add("x-api-key", p.apiKey)
	}
	if len(p.hmacKey) > 0 {
		req.Header.Add("x-signature", Sign(p.hmacKey, buf))
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Attempt to read a response message to use in error message, otherwise use http status message.
		msg := resp.Status
		buf, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err == nil && len(buf) > 0 {
			msg = string(buf)
		}
		return HTTPError{resp.StatusCode, msg}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Close does nothing, requests are independent.
func (p *Poster) Close() error {
	return nil
}

// HTTPError represents an HTTP error code and message.
type HTTPError struct {
	Code   int    // HTTP status code, eg 401 or 500.
	Status string // Status message, either from body or the HTTP response status line.
}

// Error returns a human-readable description of the HTTP error.
func (e HTTPError) Error() string {
	return fmt.Sprintf("http response error, code %d: %s", e.Code, e.Status)
}

// Ensure HTTPError implements the error interface.
var _ error = HTTPError{}
