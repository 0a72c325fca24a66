package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

// MockTransport streams a canned reply word by word. Useful for dev
// without network access.
type MockTransport struct {
	step time.Duration
}

func NewMockTransport(step time.Duration) *MockTransport {
	return &MockTransport{step: step}
}

func (m *MockTransport) Generate(
	ctx context.Context,
	window []domain.ContextEntry,
	userText string,
	onSnapshot domain.SnapshotFunc,
) (string, error) {
	// Here we could use minimum rules to give Rise Up some personality
	reply := fmt.Sprintf("I hear you. You said %q. 💜 Tell me a little more about how that makes you feel?", userText)

	var sb strings.Builder
	for i, word := range strings.Fields(reply) {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(word)

		if m.step > 0 {
			select {
			case <-ctx.Done():
				return "", domain.NewTransportError(domain.NetworkFailure, 0, ctx.Err())
			case <-time.After(m.step):
			}
		}
		onSnapshot(sb.String())
	}

	return sb.String(), nil
}
