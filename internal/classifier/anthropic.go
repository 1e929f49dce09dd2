package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pbaille/akten/internal/domain"
	"go.uber.org/zap"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Classifier extracts filing metadata from scanned documents via the Anthropic API
type Classifier struct {
	apiKey        string
	model         string
	tenantAddress string
	endpoint      string
	client        *http.Client
}

// New creates a new Classifier. tenantAddress is the rented property's
// address; documents addressed to it are flagged as containing the address.
func New(apiKey, model, tenantAddress string) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	return &Classifier{
		apiKey:        apiKey,
		model:         model,
		tenantAddress: tenantAddress,
		endpoint:      anthropicAPI,
		client:        http.DefaultClient,
	}, nil
}

// WithEndpoint points the classifier at another Messages API URL.
func (c *Classifier) WithEndpoint(url string) *Classifier {
	cp := *c
	cp.endpoint = url
	return &cp
}

// Classify analyzes a document image or PDF and returns suggested metadata
func (c *Classifier) Classify(ctx context.Context, data []byte, mimeType string) (*domain.Classification, error) {
	block, err := contentBlock(data, mimeType)
	if err != nil {
		return nil, err
	}

	resp, err := c.callAPI(ctx, block, buildPrompt(c.tenantAddress))
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	return parseResponse(resp)
}

// OrDefault classifies with c and falls back to the default metadata when c
// is nil or the call fails. The fallback is logged, never returned as an error.
func OrDefault(ctx context.Context, c *Classifier, data []byte, mimeType string, log *zap.Logger, onFallback func()) domain.Classification {
	if c == nil {
		return domain.DefaultClassification()
	}
	result, err := c.Classify(ctx, data, mimeType)
	if err != nil {
		if log != nil {
			log.Warn("classification failed, using defaults", zap.Error(err))
		}
		if onFallback != nil {
			onFallback()
		}
		return domain.DefaultClassification()
	}
	return *result
}

func buildPrompt(tenantAddress string) string {
	var sb strings.Builder

	sb.WriteString("Analyze this scanned document for filing in a personal archive. Return JSON only.\n\n")

	if tenantAddress != "" {
		sb.WriteString("Rented property address: ")
		sb.WriteString(tenantAddress)
		sb.WriteString("\n\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{
  "filename": "short-descriptive-name",
  "isTaxRelevant": true,
  "category": "Rechnungen",
  "containsAddress": false,
  "summary": "one sentence"
}

Rules:
- filename: short German title without extension, e.g. "Rechnung Stadtwerke März 2024"
- isTaxRelevant: true if the document matters for a German income tax return
- category: exactly one of "Rechnungen", "Versicherungen", "Spenden", "Sonstiges"
- containsAddress: true only if the document is addressed to or concerns the rented property address above
- summary: one short sentence describing the document

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Source *apiSource `json:"source,omitempty"`
}

type apiSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// contentBlock wraps the payload as an image or document block.
func contentBlock(data []byte, mimeType string) (apiContent, error) {
	if len(data) == 0 {
		return apiContent{}, fmt.Errorf("empty document")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")

	source := &apiSource{
		Type:      "base64",
		MediaType: mimeType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return apiContent{Type: "image", Source: source}, nil
	case "application/pdf":
		return apiContent{Type: "document", Source: source}, nil
	}
	return apiContent{}, fmt.Errorf("unsupported content type %q", mimeType)
}

func (c *Classifier) callAPI(ctx context.Context, block apiContent, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []apiMessage{
			{Role: "user", Content: []apiContent{block, {Type: "text", Text: prompt}}},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}

func parseResponse(resp string) (*domain.Classification, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var raw struct {
		Filename        string `json:"filename"`
		IsTaxRelevant   bool   `json:"isTaxRelevant"`
		Category        string `json:"category"`
		ContainsAddress bool   `json:"containsAddress"`
		Summary         string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}

	return &domain.Classification{
		Filename:        strings.TrimSpace(raw.Filename),
		IsTaxRelevant:   raw.IsTaxRelevant,
		Category:        domain.ParseCategory(raw.Category),
		ContainsAddress: raw.ContainsAddress,
		Summary:         strings.TrimSpace(raw.Summary),
	}, nil
}
