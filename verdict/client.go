// Package verdict asks the Gemini generative language API whether the child in
// a frame behaves well.
package verdict

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

// DefaultBaseURL is the default URL of the generative language API.
var DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the model used when Client.Model is empty.
const DefaultModel = "gemini-2.0-flash"

// Client sends frames to the model and parses verdicts. The zero value is
// usable and talks to DefaultBaseURL with DefaultModel.
type Client struct {
	// If nil, a client with a 30s timeout is used.
	// If you need custom HTTP handling, e.g. for proxy settings, set your own.
	HTTPClient *http.Client
	BaseURL    string
	Model      string

	// If not empty, requests (without image data) and responses are written
	// to this directory as JSON files.
	TraceDir string

	Logger *slog.Logger

	lastID atomic.Int64
}

// Ensure Client implements kidwatch.Analyzer.
var _ kidwatch.Analyzer = (*Client)(nil)

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // Base64.
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"response_mime_type"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Analyze sends frame with the instruction for mode, and returns the parsed
// verdict.
//
// Errors are kidwatch.ErrMissingCredential for an empty credential (no request
// is made), a *kidwatch.TransportError when the request fails or returns a
// non-success status, and kidwatch.ErrMalformedResponse when the response holds
// no valid verdict.
func (c *Client) Analyze(ctx context.Context, frame kidwatch.Frame, mode kidwatch.Mode, credential string) (kidwatch.Verdict, error) {
	if credential == "" {
		return kidwatch.Verdict{}, kidwatch.ErrMissingCredential
	}
	instruction, err := Instruction(mode)
	if err != nil {
		return kidwatch.Verdict{}, err
	}
	if len(frame.Data) == 0 {
		return kidwatch.Verdict{}, fmt.Errorf("%w: empty frame", kidwatch.ErrSourceUnavailable)
	}
	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	id := c.lastID.Add(1)
	greq := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: instruction},
				{InlineData: &inlineData{MIMEType: mimeType}},
			},
		}},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	}
	c.writeTrace(fmt.Sprintf("verdict-%d-request.json", id), greq)
	greq.Contents[0].Parts[1].InlineData.Data = base64.StdEncoding.EncodeToString(frame.Data)

	buf, err := json.Marshal(greq)
	if err != nil {
		return kidwatch.Verdict{}, fmt.Errorf("marshal request to JSON: %v", err)
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", strings.TrimRight(baseURL, "/"), url.PathEscape(model), url.QueryEscape(credential))
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(buf))
	if err != nil {
		return kidwatch.Verdict{}, fmt.Errorf("new HTTP request: %v", err)
	}
	req.Header.Add("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	t0 := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		// Never leak the key, which is part of the URL in *url.Error.
		if uerr, ok := err.(*url.Error); ok {
			uerr.URL = redactKey(uerr.URL)
		}
		return kidwatch.Verdict{}, &kidwatch.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBuf, err := io.ReadAll(resp.Body)
	if err != nil {
		return kidwatch.Verdict{}, &kidwatch.TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}
	c.logger().Debug("model response", "status", resp.StatusCode, "duration", time.Since(t0), "size", len(respBuf))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Attempt to use the error message from the response, otherwise use http status message.
		msg := resp.Status
		var eresp errorResponse
		if json.Unmarshal(respBuf, &eresp) == nil && eresp.Error.Message != "" {
			msg = eresp.Error.Message
		} else if len(respBuf) > 0 {
			msg = string(respBuf)
		}
		return kidwatch.Verdict{}, &kidwatch.TransportError{Code: resp.StatusCode, Status: msg}
	}

	var gresp generateResponse
	if err := json.Unmarshal(respBuf, &gresp); err != nil {
		return kidwatch.Verdict{}, fmt.Errorf("%w: parsing response: %v", kidwatch.ErrMalformedResponse, err)
	}
	c.writeTrace(fmt.Sprintf("verdict-%d-response.json", id), gresp)
	return parseResponse(gresp)
}

func parseResponse(gresp generateResponse) (kidwatch.Verdict, error) {
	if len(gresp.Candidates) == 0 {
		if gresp.PromptFeedback != nil && gresp.PromptFeedback.BlockReason != "" {
			return kidwatch.Verdict{}, fmt.Errorf("%w: prompt blocked: %s", kidwatch.ErrMalformedResponse, gresp.PromptFeedback.BlockReason)
		}
		return kidwatch.Verdict{}, fmt.Errorf("%w: no candidates", kidwatch.ErrMalformedResponse)
	}
	var text string
	for _, p := range gresp.Candidates[0].Content.Parts {
		if p.Text != "" {
			text = p.Text
			break
		}
	}
	if text == "" {
		return kidwatch.Verdict{}, fmt.Errorf("%w: no text in first candidate", kidwatch.ErrMalformedResponse)
	}
	return ParseVerdict(text)
}

// ParseVerdict decodes the JSON verdict in text as returned by the model.
// A markdown code fence around the JSON is ignored.
func ParseVerdict(text string) (kidwatch.Verdict, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	var v kidwatch.Verdict
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&v); err != nil {
		return kidwatch.Verdict{}, fmt.Errorf("%w: parsing verdict %q: %v", kidwatch.ErrMalformedResponse, text, err)
	}
	if dec.More() {
		return kidwatch.Verdict{}, fmt.Errorf("%w: trailing data after verdict", kidwatch.ErrMalformedResponse)
	}
	v.Message = strings.TrimSpace(v.Message)
	switch v.Outcome {
	case kidwatch.OutcomeGood:
	case kidwatch.OutcomeBad:
		if v.Message == "" {
			return kidwatch.Verdict{}, fmt.Errorf("%w: bad verdict without message", kidwatch.ErrMalformedResponse)
		}
	default:
		return kidwatch.Verdict{}, fmt.Errorf("%w: unknown status %q", kidwatch.ErrMalformedResponse, v.Outcome)
	}
	return v, nil
}

func redactKey(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) writeTrace(name string, data any) {
	if c.TraceDir == "" {
		return
	}
	log := c.logger()
	path := filepath.Join(c.TraceDir, name)
	f, err := os.Create(path)
	if err != nil {
		log.Warn("trace, creating file", "path", path, "error", err)
		return
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(data); err != nil {
		log.Warn("trace, writing data", "path", path, "error", err)
		return
	}
	log.Debug("trace", "path", path)
}
