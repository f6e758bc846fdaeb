package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cavvy/internal/domain"

	"github.com/go-playground/validator/v10"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to an OpenAI compatible chat completions endpoint and asks for
// replies constrained by a JSON schema.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	validate   *validator.Validate
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    timeout,
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SuggestSectionItems proposes items for one section of a canvas.
func (c *Client) SuggestSectionItems(ctx context.Context, req SectionRequest) ([]Suggestion, error) {
	system, user := sectionPrompt(req)

	var out suggestionList
	if err := c.complete(ctx, "section_items", system, user, suggestionSchema, 0.7, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// SuggestExistingTypes asks which of the candidate types fit the dive.
func (c *Client) SuggestExistingTypes(ctx context.Context, dc DiveContext, candidates []domain.CanvasType) ([]TypeFit, error) {
	var out typeFitList
	if err := c.complete(ctx, "existing_types", catalogSystemPrompt, existingTypesPrompt(dc, candidates), typeFitSchema, 0.2, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// ProposeNewTypes asks for brand-new canvas type ideas.
func (c *Client) ProposeNewTypes(ctx context.Context, dc DiveContext) ([]NewTypeProposal, error) {
	var out proposalList
	if err := c.complete(ctx, "new_types", catalogSystemPrompt, newTypesPrompt(dc), proposalSchema, 0.8, &out); err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

// BuildCanvasType expands a proposal into a fully specified canvas type. The
// returned type carries id as its ID and is marked custom.
func (c *Client) BuildCanvasType(ctx context.Context, dc DiveContext, proposal NewTypeProposal, id string) (*domain.CanvasType, error) {
	var out canvasTypeDraft
	if err := c.complete(ctx, "canvas_type", catalogSystemPrompt, canvasTypePrompt(dc, proposal), canvasTypeSchema, 0.4, &out); err != nil {
		return nil, err
	}
	return out.toCanvasType(id), nil
}

// BuildAgent writes the prompt configuration for canvases of type t.
func (c *Client) BuildAgent(ctx context.Context, t *domain.CanvasType) (*domain.AIAgent, error) {
	var out agentDraft
	if err := c.complete(ctx, "agent", catalogSystemPrompt, agentPrompt(t), agentSchema, 0.4, &out); err != nil {
		return nil, err
	}

	prompts := make(map[string]string, len(out.SectionPrompts))
	for _, p := range out.SectionPrompts {
		prompts[p.Section] = p.Prompt
	}
	return &domain.AIAgent{
		ID:             t.ID,
		Name:           out.Name,
		SystemPrompt:   out.SystemPrompt,
		SectionPrompts: prompts,
		IsCustom:       true,
	}, nil
}

// NameCanvas derives a name and description for a child canvas.
func (c *Client) NameCanvas(ctx context.Context, dc DiveContext, t *domain.CanvasType) (*CanvasNaming, error) {
	var out CanvasNaming
	if err := c.complete(ctx, "naming", defaultSystemPrompt, namingPrompt(dc, t), namingSchema, 0.5, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) complete(ctx context.Context, op, system, user string, schema jsonSchema, temperature float64, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{Type: "json_schema", JSONSchema: schema},
		Temperature:    temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body=%s", strings.TrimSpace(string(b))),
		}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.Error != nil {
		return &ProviderError{Op: op, Err: errors.New(decoded.Error.Message)}
	}
	if len(decoded.Choices) == 0 {
		return &ProviderError{Op: op, Err: errors.New("response has no choices")}
	}

	content := extractJSON(decoded.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("malformed reply: %w", err)}
	}
	if err := c.validate.Struct(out); err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("reply does not match schema: %w", err)}
	}
	return nil
}

// extractJSON strips markdown code fences some models wrap JSON replies in.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func stringProp() map[string]any {
	return map[string]any{"type": "string"}
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

var suggestionSchema = jsonSchema{
	Name: "section_suggestions",
	Schema: object([]string{"suggestions"}, map[string]any{
		"suggestions": arrayOf(object([]string{"content", "rationale"}, map[string]any{
			"content":   stringProp(),
			"rationale": stringProp(),
		})),
	}),
}

var typeFitSchema = jsonSchema{
	Name: "existing_canvas_types",
	Schema: object([]string{"suggestions"}, map[string]any{
		"suggestions": arrayOf(object([]string{"canvas_type_id", "rationale"}, map[string]any{
			"canvas_type_id": stringProp(),
			"rationale":      stringProp(),
		})),
	}),
}

var proposalSchema = jsonSchema{
	Name: "new_canvas_types",
	Schema: object([]string{"proposals"}, map[string]any{
		"proposals": arrayOf(object([]string{"name", "icon", "rationale", "sections"}, map[string]any{
			"name":      stringProp(),
			"icon":      stringProp(),
			"rationale": stringProp(),
			"sections":  arrayOf(stringProp()),
		})),
	}),
}

var canvasTypeSchema = jsonSchema{
	Name: "canvas_type",
	Schema: object([]string{"name", "icon", "description", "sections", "layout"}, map[string]any{
		"name":        stringProp(),
		"icon":        stringProp(),
		"description": stringProp(),
		"tags":        arrayOf(stringProp()),
		"sections": arrayOf(object([]string{"name", "icon", "placeholder", "grid_index"}, map[string]any{
			"name":        stringProp(),
			"icon":        stringProp(),
			"placeholder": stringProp(),
			"grid_index":  map[string]any{"type": "integer"},
		})),
		"layout": object([]string{"grid_template_columns", "grid_template_rows", "areas"}, map[string]any{
			"grid_template_columns": stringProp(),
			"grid_template_rows":    stringProp(),
			"areas": arrayOf(object([]string{"section", "area"}, map[string]any{
				"section": stringProp(),
				"area":    stringProp(),
			})),
		}),
	}),
}

var agentSchema = jsonSchema{
	Name: "canvas_agent",
	Schema: object([]string{"name", "system_prompt", "section_prompts"}, map[string]any{
		"name":          stringProp(),
		"system_prompt": stringProp(),
		"section_prompts": arrayOf(object([]string{"section", "prompt"}, map[string]any{
			"section": stringProp(),
			"prompt":  stringProp(),
		})),
	}),
}

var namingSchema = jsonSchema{
	Name: "canvas_naming",
	Schema: object([]string{"name", "description"}, map[string]any{
		"name":        stringProp(),
		"description": stringProp(),
	}),
}
