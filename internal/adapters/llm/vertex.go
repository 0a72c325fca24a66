package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

// VertexTransport streams generations through the genai SDK on Vertex AI.
// The SDK yields deltas; they are accumulated so callers still receive
// cumulative snapshots.
type VertexTransport struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

// NewVertexTransport creates a StreamTransport based on Vertex AI (Gemini).
func NewVertexTransport(ctx context.Context, projectID, location, modelName string) (*VertexTransport, error) {
	if projectID == "" || location == "" {
		return nil, errors.New("gcp project and location must be set for the vertex backend")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexTransport{
		client:    client,
		modelName: modelName,
		logger:    observability.WithFields("component", "llm.vertex"),
	}, nil
}

// Generate implements domain.StreamTransport using Vertex AI.
func (v *VertexTransport) Generate(
	ctx context.Context,
	window []domain.ContextEntry,
	userText string,
	onSnapshot domain.SnapshotFunc,
) (string, error) {
	contents := BuildContents(window, userText)

	var (
		sb     strings.Builder
		chunks int
	)
	for resp, err := range v.client.Models.GenerateContentStream(ctx, v.modelName, contents, contentConfig()) {
		if err != nil {
			return "", classifySDKError(err)
		}
		chunks++

		// EXTRACT ONLY THE TEXT, do not print the structs
		delta := resp.Text()
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onSnapshot(sb.String())
	}

	if chunks == 0 {
		return "", domain.NewTransportError(domain.RemoteError, 0, errNoEvents)
	}

	v.logger.Debug("vertex stream finished", "chunks", chunks, "chars", sb.Len())
	return sb.String(), nil
}

func classifySDKError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return domain.NewTransportError(domain.NetworkFailure, 0, err)
	}

	if code == http.StatusForbidden || code == http.StatusUnauthorized {
		return domain.NewTransportError(domain.CredentialRejected, code, err)
	}
	return domain.NewTransportError(domain.RemoteError, code, err)
}
