package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/xerrors"
)

const (
	// DefaultModel answers chat requests unless overridden.
	DefaultModel = "gpt-4o-mini"

	completionTemperature = 0.7
	completionMaxTokens   = 1000
	completionTimeout     = 60 * time.Second
)

// OpenAIOptions configures an OpenAI-backed Client.
type OpenAIOptions struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the OpenAI endpoint, for proxies and tests.
	BaseURL string
	// Model defaults to DefaultModel.
	Model string
	// HTTPClient defaults to a fresh client.
	HTTPClient *http.Client
}

// OpenAI implements Client over the OpenAI chat completions API.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

var _ Client = &OpenAI{}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, xerrors.New("OpenAI API key not configured")
	}
	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	model := openai.ChatModel(opts.Model)
	if opts.Model == "" {
		model = openai.ChatModel(DefaultModel)
	}
	return &OpenAI{
		client: openai.NewClient(requestOpts...),
		model:  model,
	}, nil
}

// Complete sends the request with a system prompt carrying the formatted
// history. Prior conversation turns are replayed between the system prompt
// and the current message.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Conversation)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt(FormatHistory(req.History))))
	for _, turn := range req.Conversation {
		switch turn.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(completionTemperature),
		MaxTokens:   openai.Int(completionMaxTokens),
	})
	if err != nil {
		return "", completionError(err)
	}
	if len(completion.Choices) == 0 {
		return "", xerrors.New("no response from OpenAI")
	}
	return completion.Choices[0].Message.Content, nil
}

// completionError rewrites the common API failures into messages fit to show
// a user; everything else keeps the upstream detail.
func completionError(err error) error {
	var apierr *openai.Error
	if xerrors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized:
			return xerrors.New("invalid OpenAI API key")
		case http.StatusTooManyRequests:
			return xerrors.New("OpenAI rate limit exceeded. Please try again later")
		}
		if apierr.Message != "" {
			return xerrors.Errorf("OpenAI API error: %s", apierr.Message)
		}
		return xerrors.Errorf("OpenAI API error: status %d", apierr.StatusCode)
	}
	return xerrors.Errorf("complete chat: %w", err)
}
