package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

const (
	DefaultGeminiModel         = "gemini-2.5-flash"
	DefaultGeminiAnalysisModel = "gemini-2.5-pro"
)

type GeminiConfig struct {
	Model         string
	AnalysisModel string
	// BaseURL overrides the API endpoint. Empty uses the public one.
	BaseURL string
}

// GeminiGenerator implements domain.Generator on the Gemini API with native
// schema-constrained output.
type GeminiGenerator struct {
	client        *genai.Client
	model         string
	analysisModel string
}

// NewGeminiGenerator creates a Generator for one API key.
func NewGeminiGenerator(ctx context.Context, apiKey string, cfg GeminiConfig) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", domain.ErrMissingCredential)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultGeminiAnalysisModel
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:        client,
		model:         cfg.Model,
		analysisModel: cfg.AnalysisModel,
	}, nil
}

// GenerateText implements domain.Generator.
func (g *GeminiGenerator) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	return g.generate(ctx, req, g.config(req))
}

// GenerateStructured implements domain.Generator.
func (g *GeminiGenerator) GenerateStructured(ctx context.Context, req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	cfg := g.config(req)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = toGeminiSchema(schema)
	return g.generate(ctx, req, cfg)
}

func (g *GeminiGenerator) config(req domain.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		cfg.Temperature = &temp
	}
	return cfg
}

func (g *GeminiGenerator) modelFor(kind domain.CallKind) string {
	if kind == domain.CallAnalysis {
		return g.analysisModel
	}
	return g.model
}

func (g *GeminiGenerator) generate(ctx context.Context, req domain.GenerateRequest, cfg *genai.GenerateContentConfig) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelFor(req.Kind), contents, cfg)
	if err != nil {
		return "", mapGeminiError(err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini (finish reason %q): %w", finishReason(res), domain.ErrEmptyResponse)
	}
	return text, nil
}

func finishReason(res *genai.GenerateContentResponse) genai.FinishReason {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil {
		return ""
	}
	return res.Candidates[0].FinishReason
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   domain.ProviderGemini,
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Err:        err,
		}
	}
	return fmt.Errorf("gemini generate content: %w", err)
}

var geminiTypes = map[domain.SchemaType]genai.Type{
	domain.TypeObject:  genai.TypeObject,
	domain.TypeArray:   genai.TypeArray,
	domain.TypeString:  genai.TypeString,
	domain.TypeNumber:  genai.TypeNumber,
	domain.TypeInteger: genai.TypeInteger,
	domain.TypeBoolean: genai.TypeBoolean,
}

func toGeminiSchema(s *domain.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             geminiTypes[s.Type],
		Description:      s.Description,
		Enum:             s.Enum,
		Required:         s.Required,
		PropertyOrdering: s.Ordering,
		Items:            toGeminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGeminiSchema(p)
		}
	}
	return out
}
