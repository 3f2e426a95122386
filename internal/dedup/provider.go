package dedup

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/righttechsoft/tgfeed/internal/config"
)

// summaryPrompt instructs the model to emit a short, comma-separated,
// lowercase keyword set (spec.md §4.5.2 step 2 / §6.4).
const summaryPrompt = `Summarize the following message as 3 to 7 lowercase English keywords separated by commas. Respond with nothing else.`

// SummaryProvider is the AI provider contract (spec.md §4.5.2): "name,
// is_configured(), generate_summary(text, max_retries) -> string | null".
type SummaryProvider interface {
	Name() string
	IsConfigured() bool
	GenerateSummary(ctx context.Context, text string, maxRetries int) (string, error)
}

// OpenAISummaryProvider implements SummaryProvider against an
// OpenAI-compatible chat completions endpoint.
type OpenAISummaryProvider struct {
	client openai.Client
	model  string
	apiKey string
}

// NewOpenAISummaryProvider builds a provider from AIConfig. A missing
// APIKey still yields a usable value; IsConfigured reports false for it so
// callers can skip the text-hash pass entirely (spec.md §4.5 non-goal when
// no provider is configured).
func NewOpenAISummaryProvider(cfg config.AIConfig) *OpenAISummaryProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAISummaryProvider{
		client: openai.NewClient(opts...),
		model:  model,
		apiKey: cfg.APIKey,
	}
}

func (p *OpenAISummaryProvider) Name() string { return "openai" }

func (p *OpenAISummaryProvider) IsConfigured() bool { return p.apiKey != "" }

// thinkingBlock strips a leading <think>...</think> or similar bracketed
// reasoning block some reasoning-tuned models prepend to their answer
// (spec.md §4.5.2 "A post-processing step strips any bracketed 'thinking'
// block before returning").
var thinkingBlock = regexp.MustCompile(`(?is)^\s*[<\[](think|thinking)[>\]].*?[<\[]/(think|thinking)[>\]]\s*`)

// GenerateSummary requests a keyword summary with bounded exponential
// backoff on retryable errors (spec.md §4.5.2: "1/2/4s capped at 60s");
// exhausting maxRetries returns an error rather than panicking or
// retrying forever.
func (p *OpenAISummaryProvider) GenerateSummary(ctx context.Context, text string, maxRetries int) (string, error) {
	if !p.IsConfigured() {
		return "", errors.New("openai provider not configured")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	bounded := backoff.WithMaxRetries(b, uint64(maxRetries))

	var result string
	op := func() error {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: p.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(summaryPrompt),
				openai.UserMessage(text),
			},
		})
		if err != nil {
			if isRetryableOpenAIError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("openai: empty completion"))
		}
		result = stripThinkingBlock(resp.Choices[0].Message.Content)
		return nil
	}

	if err := backoff.Retry(op, bounded); err != nil {
		return "", err
	}
	return result, nil
}

func stripThinkingBlock(s string) string {
	return strings.TrimSpace(thinkingBlock.ReplaceAllString(s, ""))
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
