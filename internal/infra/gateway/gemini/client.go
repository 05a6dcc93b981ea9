// Package gemini adapts the Gemini API to the model interfaces the rest of
// the service consumes: a tool-calling chat for parser generation and a
// single-shot JSON call for categorization.
package gemini

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/savichev/finparse/internal/generator"
	"github.com/savichev/finparse/pkg/logger"
)

const (
	// DefaultModel is the model used when the config names none.
	DefaultModel = "gemini-2.0-flash"

	toolName = "execute_parser_code"
)

// Client wraps a genai client with a shared request-rate limiter.
type Client struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewClient builds a Gemini client. rpm caps model calls per minute across
// all sessions; rpm <= 0 disables the limiter.
func NewClient(ctx context.Context, apiKey, model string, rpm int, log *logger.Logger) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return &Client{
		client:  c,
		model:   model,
		limiter: limiter,
		logger:  log.WithField("component", "gemini"),
	}, nil
}

// executeTool declares the single tool the generation loop exposes.
func executeTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        toolName,
			Description: "Execute candidate parser code against the full statement text and report the outcome.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"code": {
						Type:        genai.TypeString,
						Description: "JavaScript function body receiving statementText and returning an array of records.",
					},
					"detected_format": {
						Type:        genai.TypeString,
						Description: "Short description of the detected statement layout.",
					},
					"date_format": {
						Type:        genai.TypeString,
						Description: "Date pattern used in the source text, e.g. DD/MM/YYYY.",
					},
					"confidence": {
						Type:        genai.TypeNumber,
						Description: "Self-assessed parse confidence, 0 to 1.",
					},
				},
				Required: []string{"code"},
			},
		}},
	}
}

// StartChat opens a tool-enabled session and sends the generation prompt.
func (c *Client) StartChat(ctx context.Context, prompt string) (generator.Chat, *generator.ModelTurn, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{executeTool()},
	}
	chat, err := c.client.Chats.Create(ctx, c.model, cfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating chat session: %w", err)
	}

	session := &chatSession{client: c, chat: chat}
	turn, err := session.send(ctx, genai.Part{Text: prompt})
	if err != nil {
		return nil, nil, err
	}
	return session, turn, nil
}

type chatSession struct {
	client *Client
	chat   *genai.Chat
}

// SendToolResult returns the execution outcome to the model as a function
// response and waits for its next turn.
func (s *chatSession) SendToolResult(ctx context.Context, result string) (*generator.ModelTurn, error) {
	return s.send(ctx, genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			Name:     toolName,
			Response: map[string]any{"result": result},
		},
	})
}

func (s *chatSession) send(ctx context.Context, part genai.Part) (*generator.ModelTurn, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := s.chat.SendMessage(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("sending chat message: %w", err)
	}
	turn := turnFromResponse(resp)
	s.client.logger.Debug("chat turn",
		"tool_call", turn.Call != nil, "duration_ms", time.Since(start).Milliseconds())
	return turn, nil
}

// turnFromResponse maps a model response to a ModelTurn. The first function
// call wins when the model emits several.
func turnFromResponse(resp *genai.GenerateContentResponse) *generator.ModelTurn {
	turn := &generator.ModelTurn{Text: resp.Text()}
	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		return turn
	}
	args := calls[0].Args
	turn.Call = &generator.ToolCall{
		Code:           argString(args, "code"),
		DetectedFormat: argString(args, "detected_format"),
		DateFormat:     argString(args, "date_format"),
		Confidence:     argFloat(args, "confidence"),
	}
	return turn
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// argFloat tolerates the integer encodings the API sometimes produces for
// numeric arguments.
func argFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// GenerateJSON performs a single-shot call and returns the response body
// with any markdown fences stripped. Callers own prompt construction and
// JSON decoding.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return "", fmt.Errorf("empty response from model")
	}
	c.logger.Debug("json response", "bytes", len(raw), "duration_ms", time.Since(start).Milliseconds())
	return cleanModelJSON(raw), nil
}
