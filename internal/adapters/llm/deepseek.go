package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

const (
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

	defaultDeepSeekTemperature = 0.7
)

type DeepSeekConfig struct {
	Model   string
	BaseURL string
}

// DeepSeekGenerator implements domain.Generator on DeepSeek's
// OpenAI-compatible chat API. Structured output uses JSON-object mode with
// the schema rendered into the system instruction.
type DeepSeekGenerator struct {
	client *openai.Client
	model  string
}

func NewDeepSeekGenerator(apiKey string, cfg DeepSeekConfig) (*DeepSeekGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek: %w", domain.ErrMissingCredential)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepSeekModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDeepSeekBaseURL
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.BaseURL

	return &DeepSeekGenerator{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// GenerateText implements domain.Generator.
func (d *DeepSeekGenerator) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	return d.complete(ctx, d.request(req, req.SystemInstruction))
}

// GenerateStructured implements domain.Generator.
func (d *DeepSeekGenerator) GenerateStructured(ctx context.Context, req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	system, err := withSchemaInstruction(req.SystemInstruction, schema)
	if err != nil {
		return "", err
	}
	cr := d.request(req, system)
	cr.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	return d.complete(ctx, cr)
}

func (d *DeepSeekGenerator) request(req domain.GenerateRequest, system string) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = defaultDeepSeekTemperature
	}

	return openai.ChatCompletionRequest{
		Model:       d.model,
		Messages:    msgs,
		Temperature: temp,
	}
}

func (d *DeepSeekGenerator) complete(ctx context.Context, cr openai.ChatCompletionRequest) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, cr)
	if err != nil {
		return "", mapDeepSeekError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("deepseek: %w", domain.ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func mapDeepSeekError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   domain.ProviderDeepSeek,
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.ProviderError{
			Provider:   domain.ProviderDeepSeek,
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}
	return fmt.Errorf("deepseek chat completion: %w", err)
}

// withSchemaInstruction appends the response contract for providers without
// native schema support.
func withSchemaInstruction(system string, schema *domain.Schema) (string, error) {
	if schema == nil {
		return system + "\n\nRespond with a single JSON object.", nil
	}
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode response schema: %w", err)
	}
	return system + "\n\nRespond with a single JSON object that conforms to this JSON Schema:\n" + string(raw), nil
}
