package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider on the Gemini API.
type GeminiProvider struct {
	client *genai.Client

	Model       string  // default "gemini-2.0-flash"
	Company     string  // brand name used in the system prompt
	Temperature float32 // default 0.8
	MaxTokens   int32   // default 256
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey, company string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{
		client:      client,
		Model:       "gemini-2.0-flash",
		Company:     company,
		Temperature: 0.8,
		MaxTokens:   256,
	}, nil
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string { return "gemini" }

// Generate produces the next-turn decision. Malformed model output is
// retried once with an explicit reformat instruction before failing.
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	system := BuildSystemPrompt(g.Company, req)
	conversation := BuildConversation(req.Transcript)

	raw, err := g.complete(ctx, system, conversation)
	if err != nil {
		return nil, &GenerationError{Provider: g.Name(), Err: err}
	}

	res, perr := ParseResult(raw)
	if perr == nil {
		return res, nil
	}

	// One reformat retry.
	raw, err = g.complete(ctx, system, conversation+"\n\n"+reformatPrompt)
	if err != nil {
		return nil, &GenerationError{Provider: g.Name(), Err: err}
	}
	res, perr = ParseResult(raw)
	if perr != nil {
		return nil, &GenerationError{
			Provider: g.Name(),
			Err:      &MalformedOutputError{Provider: g.Name(), Raw: truncateRaw(raw), Err: perr},
		}
	}
	return res, nil
}

func (g *GeminiProvider) complete(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(g.Temperature),
		MaxOutputTokens:   g.MaxTokens,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

// ParseResult decodes the model's JSON contract. Responses wrapped in code
// fences are unwrapped first.
func ParseResult(raw string) (*Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var res Result
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if strings.TrimSpace(res.ReplyText) == "" {
		return nil, fmt.Errorf("missing reply_text")
	}
	if res.ExtractedFields == nil {
		res.ExtractedFields = map[string]any{}
	}
	return &res, nil
}

func truncateRaw(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}
