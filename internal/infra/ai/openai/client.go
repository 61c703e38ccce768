package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/infra/ai/prompt"
)

const (
	defaultModel       = "gemini-2.5-flash"
	defaultMaxTokens   = 4096
	defaultTemperature = 0.2
)

// Options configures the analysis client. Nothing is read from the environment here.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Variant     prompt.Variant
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	*openai.Client
	Model       string
	temperature float32
	maxTokens   int
	variant     prompt.Variant
	schema      jsonschema.Definition
	validator   *gojsonschema.Schema
	log         *log.Entry
}

func NewClient(opts Options, logger *log.Entry) (*Client, error) {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.Variant == "" {
		opts.Variant = prompt.VariantFull
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	schema := prompt.ResponseSchema(opts.Variant)
	accept := prompt.AcceptSchema(opts.Variant)
	raw, err := json.Marshal(&accept)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	return &Client{
		Client:      openai.NewClientWithConfig(cfg),
		Model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		variant:     opts.Variant,
		schema:      schema,
		validator:   validator,
		log:         logger.WithField("component", "analysis-client"),
	}, nil
}

// Analyze sends the images and comments in one request. It is at-most-once: no retry, no cache.
func (c *Client) Analyze(ctx context.Context, req inspection.AnalysisRequest) (*inspection.AnalysisResult, error) {
	start := time.Now()

	parts, err := encodeImages(ctx, req.Images)
	if err != nil {
		return nil, inspection.Fail(inspection.KindEncoding, err)
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt.GetUserPrompt(req.Comments),
	})

	creq := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   prompt.SchemaName,
				Schema: &c.schema,
				Strict: true,
			},
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt(c.variant)},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.Model) {
		creq.MaxCompletionTokens = c.maxTokens
	} else {
		creq.MaxTokens = c.maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, inspection.Fail(inspection.KindTransport, classify(err))
	}

	c.log.WithFields(log.Fields{
		"model":    c.Model,
		"images":   len(req.Images),
		"duration": time.Since(start).String(),
		"tokens":   resp.Usage.TotalTokens,
	}).Debug("analysis response received")

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, inspection.Fail(inspection.KindEmptyResponse, inspection.ErrEmptyResponse)
	}
	return c.decode(resp.Choices[0].Message.Content)
}

// decode re-checks the payload locally; the provider's schema enforcement is best effort.
func (c *Client) decode(content string) (*inspection.AnalysisResult, error) {
	payload := extractJSONPayload(content)

	res, err := c.validator.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return nil, malformed(fmt.Errorf("not a JSON document: %w", err))
	}
	if !res.Valid() {
		issues := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, malformed(fmt.Errorf("schema violation: %s", strings.Join(issues, "; ")))
	}

	var out inspection.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, malformed(err)
	}
	if err := out.Validate(); err != nil {
		return nil, malformed(err)
	}
	return &out, nil
}

func malformed(err error) error {
	return inspection.Fail(inspection.KindMalformedResponse, fmt.Errorf("%w: %v", inspection.ErrMalformedResponse, err))
}

// encodeImages turns every image into a data URL part. All must succeed; order follows the input.
func encodeImages(ctx context.Context, images []inspection.Image) ([]openai.ChatMessagePart, error) {
	parts := make([]openai.ChatMessagePart, len(images))
	g, _ := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			if len(img.Data) == 0 {
				return fmt.Errorf("image %d (%s) has no data", i, img.Name)
			}
			mime := img.MIMEType
			if mime == "" {
				mime = mimetype.Detect(img.Data).String()
			}
			parts[i] = openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", inspection.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("failed to create chat completion: %w", err)
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// extractJSONPayload strips markdown fences some providers add despite the response format.
func extractJSONPayload(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
