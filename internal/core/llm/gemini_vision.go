package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

const extractionPrompt = `You extract structured data from photos of receipts and invoices.
Return a single JSON object with these keys:
{
  "vendor": "store or merchant name",
  "date": "YYYY-MM-DD",
  "currency": "ISO 4217 code if visible",
  "total": number,
  "subtotal": number,
  "tax": number,
  "tip": number,
  "line_items": [
    {"description": "item", "quantity": number, "price": number, "total": number}
  ],
  "payment_method": "payment method if visible",
  "receipt_number": "receipt or invoice number if visible",
  "document_type": "receipt" | "invoice" | "other",
  "payment_status": "paid" | "unpaid" | "partial" | "unknown",
  "due_date": "YYYY-MM-DD or null",
  "balance_due": number or null,
  "confidence_overall": number between 0 and 1
}
Amounts are plain numbers without currency symbols. Use null or an empty array for anything not present.`

type GeminiVision struct {
	client    *genai.Client
	modelName string
}

func NewGeminiVision(ctx context.Context, apiKey, modelName string) (*GeminiVision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiVision{client: cl, modelName: modelName}, nil
}

func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Extract sends one image to the model in JSON response mode and decodes the
// reply leniently.
func (g *GeminiVision) Extract(ctx context.Context, mimeType string, image []byte) (*models.ExtractedData, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractionPrompt)},
	}

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text("Extract all information from this receipt/invoice and return it as JSON."),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return ParseExtraction(b.String())
}

// ParseExtraction decodes a model reply. Markdown code fences are tolerated
// and an empty reply decodes to an empty payload.
func ParseExtraction(reply string) (*models.ExtractedData, error) {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		s = "{}"
	}

	var ed models.ExtractedData
	if err := json.Unmarshal([]byte(s), &ed); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &ed, nil
}

var _ core.VisionExtractor = (*GeminiVision)(nil)
