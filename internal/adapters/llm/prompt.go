package llm

import (
	"google.golang.org/genai"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

const systemInstruction = `You are Rise Up, a compassionate and supportive AI companion. Your goal is to provide emotional support, motivation, and a listening ear.
- You are NOT a therapist. If the user expresses self-harm or severe crisis, guide them to professional help immediately.
- Keep responses warm, empathetic, and concise (usually 2-3 sentences).
- Use emojis to feel friendly.`

// primingReply is the model's acknowledgement of the system instruction.
const primingReply = "I understand. I'm Rise Up, your compassionate AI companion. I'm here to listen and support you. 💜"

// Generation parameters are fixed, not user-tunable.
const (
	temperature     = float32(0.9)
	topP            = float32(0.95)
	maxOutputTokens = int32(1024)
)

// BuildContents lays out a request in its fixed order: system instruction,
// priming exchange, context window, new user text.
func BuildContents(window []domain.ContextEntry, userText string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(window)+3)

	contents = append(contents,
		genai.NewContentFromText(systemInstruction, genai.RoleUser),
		genai.NewContentFromText(primingReply, genai.RoleModel),
	)

	for _, entry := range window {
		var role genai.Role = genai.RoleUser
		if entry.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Text, role))
	}

	return append(contents, genai.NewContentFromText(userText, genai.RoleUser))
}

// generationConfig returns the fixed sampling parameters (without genai.Ptr).
func generationConfig() *genai.GenerationConfig {
	temp := temperature
	p := topP
	return &genai.GenerationConfig{
		Temperature:     &temp,
		TopP:            &p,
		MaxOutputTokens: maxOutputTokens,
	}
}

// contentConfig is the same parameters shaped for the SDK call.
func contentConfig() *genai.GenerateContentConfig {
	temp := temperature
	p := topP
	return &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopP:            &p,
		MaxOutputTokens: maxOutputTokens,
	}
}
