package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-2.5-flash"

	dataPrefix   = "data: "
	maxErrorBody = 64 << 10
)

var (
	errNoEvents = errors.New("response contained no parseable event")
	errStalled  = errors.New("stream stalled waiting for the next chunk")
)

// SSETransport streams generations from the Gemini REST endpoint using
// server-sent events, authenticated by an API key in the query string.
type SSETransport struct {
	client       *http.Client
	endpoint     string
	model        string
	apiKey       string
	chunkTimeout time.Duration
	logger       *slog.Logger
}

type SSEOption func(*SSETransport)

func WithHTTPClient(c *http.Client) SSEOption {
	return func(t *SSETransport) { t.client = c }
}

// WithChunkTimeout bounds the wait for each chunk of the stream; zero disables it.
func WithChunkTimeout(d time.Duration) SSEOption {
	return func(t *SSETransport) { t.chunkTimeout = d }
}

func WithLogger(l *slog.Logger) SSEOption {
	return func(t *SSETransport) { t.logger = l }
}

func NewSSETransport(endpoint, model, apiKey string, opts ...SSEOption) *SSETransport {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}

	t := &SSETransport{
		client:   http.DefaultClient,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		logger:   observability.WithFields("component", "llm.sse"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type streamRequest struct {
	Contents         []*genai.Content        `json:"contents"`
	GenerationConfig *genai.GenerationConfig `json:"generationConfig"`
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate implements domain.StreamTransport. It issues one request, never
// retries, and reports every failure as a *domain.TransportError.
func (t *SSETransport) Generate(
	ctx context.Context,
	window []domain.ContextEntry,
	userText string,
	onSnapshot domain.SnapshotFunc,
) (string, error) {
	payload, err := json.Marshal(streamRequest{
		Contents:         BuildContents(window, userText),
		GenerationConfig: generationConfig(),
	})
	if err != nil {
		return "", domain.NewTransportError(domain.RemoteError, 0, fmt.Errorf("encoding request: %w", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	var watchdog *time.Timer
	if t.chunkTimeout > 0 {
		watchdog = time.AfterFunc(t.chunkTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), bytes.NewReader(payload))
	if err != nil {
		return "", domain.NewTransportError(domain.NetworkFailure, 0, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", domain.NewTransportError(domain.NetworkFailure, 0, t.cause(err, &stalled))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", t.statusError(resp)
	}

	var body io.Reader = resp.Body
	if watchdog != nil {
		watchdog.Reset(t.chunkTimeout)
		body = &idleReader{r: resp.Body, timer: watchdog, idle: t.chunkTimeout}
	}

	var (
		reader   = bufio.NewReader(body)
		fullText string
		parsed   int
	)
	for {
		line, readErr := reader.ReadString('\n')

		if text, ok := t.decodeLine(line); ok {
			parsed++
			if text != "" {
				fullText = text
				onSnapshot(fullText)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", domain.NewTransportError(domain.NetworkFailure, resp.StatusCode, t.cause(readErr, &stalled))
		}
	}

	if parsed == 0 {
		return "", domain.NewTransportError(domain.RemoteError, resp.StatusCode, errNoEvents)
	}
	return fullText, nil
}

// decodeLine extracts candidates[0].content.parts[0].text from one
// "data: " line. ok is false for lines that are not parseable events.
func (t *SSETransport) decodeLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}

	raw := strings.TrimSpace(line[len(dataPrefix):])
	if raw == "" {
		return "", false
	}

	var chunk genai.GenerateContentResponse
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
		t.logger.Debug("skipping unparseable event", "error", err)
		return "", false
	}

	return firstText(&chunk), true
}

func firstText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return ""
	}
	return content.Parts[0].Text
}

func (t *SSETransport) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := http.StatusText(resp.StatusCode)
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		detail = eb.Error.Message
	}
	t.logger.Error("generation endpoint returned an error", "status", resp.StatusCode, "detail", detail)

	kind := domain.RemoteError
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		kind = domain.CredentialRejected
	}
	return domain.NewTransportError(kind, resp.StatusCode, errors.New(detail))
}

func (t *SSETransport) cause(err error, stalled *atomic.Bool) error {
	if stalled.Load() {
		return errStalled
	}
	return err
}

func (t *SSETransport) url() string {
	u := url.URL{}
	if parsed, err := url.Parse(t.endpoint); err == nil {
		u = *parsed
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/models/" + t.model + ":streamGenerateContent"

	q := u.Query()
	q.Set("alt", "sse")
	q.Set("key", t.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// idleReader pushes the watchdog back every time bytes arrive.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.idle)
	}
	return n, err
}
