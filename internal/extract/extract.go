// Package extract turns recorded conversation transcripts into task drafts.
//
// It calls the Gemini generateContent REST endpoint with a structured-output
// prompt and parses the JSON task list the model returns. Extraction is a
// batch operation run after a session ends, separate from the live tool-call
// path that creates tasks mid-conversation.
//
// Usage:
//
//	c, err := extract.New(apiKey, extract.WithModel("gemini-2.0-flash"))
//	drafts, err := c.ExtractTasks(ctx, transcript)
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxtasks/voxtasks/internal/observe"
	"github.com/voxtasks/voxtasks/pkg/task"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"

	// extractPrompt asks for a bare JSON array so the response parses
	// without stripping markdown fences.
	extractPrompt = `You are a task extraction engine. Read the following conversation
transcript and extract every actionable task the user committed to or asked
to be reminded of. Respond with a JSON array only, no prose. Each element:
{"title": string, "notes": string, "priority": "high"|"medium"|"low",
"due": RFC 3339 timestamp or ""}. Return [] if there are no tasks.

Transcript:
`

	transcribePrompt = "Transcribe this audio verbatim. Respond with the transcription text only."
)

// Draft is one extracted task candidate before it is persisted. The caller
// reviews drafts and saves the accepted ones through a [task.Store].
type Draft struct {
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	Priority string `json:"priority"`
	Due      string `json:"due"`
}

// Task converts the draft into a persistable task with source "transcript".
// A malformed due timestamp is dropped rather than failing the draft.
func (d Draft) Task() task.Task {
	t := task.Task{
		Title:    d.Title,
		Notes:    d.Notes,
		Priority: task.Priority(d.Priority),
		Source:   task.SourceTranscript,
	}
	if d.Due != "" {
		if due, err := time.Parse(time.RFC3339, d.Due); err == nil {
			t.DueAt = &due
		}
	}
	return t
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier. Defaults to "gemini-2.0-flash".
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL overrides the API base URL. Useful for testing.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics sets the metrics instance used for latency recording.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client calls the Gemini generateContent endpoint for transcription and
// task extraction. Safe for concurrent use.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New creates a Client. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("extract: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// ---- request/response wire types --------------------------------------------

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractTasks sends the transcript through the extraction prompt and parses
// the returned JSON array. An empty transcript yields no drafts without a
// network call.
func (c *Client) ExtractTasks(ctx context.Context, transcript string) ([]Draft, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	start := time.Now()
	text, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: extractPrompt + transcript},
		}}},
		GenerationConfig: &generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ExtractDuration.Record(ctx, time.Since(start).Seconds())

	var drafts []Draft
	if err := json.Unmarshal([]byte(text), &drafts); err != nil {
		return nil, fmt.Errorf("extract: parse task list: %w", err)
	}

	kept := drafts[:0]
	for _, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			continue
		}
		kept = append(kept, d)
	}
	return kept, nil
}

// Transcribe sends raw PCM audio for batch transcription and returns the
// text. mimeType describes the encoding, e.g. "audio/pcm;rate=16000".
func (c *Client) Transcribe(ctx context.Context, pcm []byte, mimeType string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	text, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: transcribePrompt},
			{InlineData: &inlineData{
				MIMEType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		}}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// generate performs one generateContent call and returns the concatenated
// text of the first candidate.
func (c *Client) generate(ctx context.Context, reqBody generateRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("extract: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extract: read response body: %w", err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("extract: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("extract: server error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract: server returned HTTP %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return "", errors.New("extract: response contains no candidates")
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
