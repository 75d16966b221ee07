package translate

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/time/rate"

	"pdf-translator/internal/logger"
)

// DefaultTimeout bounds one chat completion call.
const DefaultTimeout = 180 * time.Second

const systemPrompt = "You are a professional,authentic machine translation engine."

const promptTemplate = ";; Treat next line as plain text input and translate it into %s, output translation ONLY. " +
	"If translation is unnecessary (e.g. proper nouns, codes, {{1}}, etc. ), return the original text. " +
	"NO explanations. NO notes.%s Input:\n\n%s"

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// QPS limits request starts per second; zero disables the limit.
	QPS float64
}

// OpenAIBackend translates through an OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	chat    model.BaseChatModel
	model   string
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewOpenAIBackend creates the chat model for cfg.
func NewOpenAIBackend(ctx context.Context, cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	baseURL := NormalizeBaseURL(cfg.BaseURL)
	temperature := float32(0)
	chatCfg := &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: &temperature,
	}
	if baseURL != "" {
		chatCfg.BaseURL = baseURL
	}
	chat, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newOpenAIBackend(chat, cfg), nil
}

func newOpenAIBackend(chat model.BaseChatModel, cfg OpenAIConfig) *OpenAIBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	return &OpenAIBackend{
		chat:    chat,
		model:   cfg.Model,
		baseURL: NormalizeBaseURL(cfg.BaseURL),
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// NormalizeBaseURL strips a trailing /chat/completions; the client appends it.
func NormalizeBaseURL(u string) string {
	u = strings.TrimSuffix(strings.TrimSpace(u), "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return u
}

// Fingerprint identifies the model and prompt for cache keys.
func (b *OpenAIBackend) Fingerprint() string {
	return "openai\x00" + b.model + "\x00" + b.baseURL + "\x00temperature=0"
}

// Translate sends all texts in one request joined by BatchSeparator.
func (b *OpenAIBackend) Translate(ctx context.Context, texts []string, target string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	input := JoinBatch(texts)
	logger.Debug("calling chat completion",
		logger.String("model", b.model),
		logger.Int("texts", len(texts)),
		logger.Int("textLen", len(input)))

	resp, err := b.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildPrompt(input, len(texts), target)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil {
		return nil, &BackendError{Message: "chat completion returned no message"}
	}
	if meta := resp.ResponseMeta; meta != nil && meta.Usage != nil {
		b.promptTokens.Add(int64(meta.Usage.PromptTokens))
		b.completionTokens.Add(int64(meta.Usage.CompletionTokens))
	}

	content := strings.TrimSpace(resp.Content)
	if len(texts) == 1 {
		return []string{content}, nil
	}
	return SplitBatch(content, len(texts))
}

// Tokens returns the prompt and completion tokens used so far.
func (b *OpenAIBackend) Tokens() (prompt, completion int64) {
	return b.promptTokens.Load(), b.completionTokens.Load()
}

func buildPrompt(input string, n int, target string) string {
	note := ""
	if n > 1 {
		note = fmt.Sprintf(" The input holds %d blocks separated by the line %q. Translate every block on its own and keep each separator line unchanged.",
			n, strings.TrimSpace(BatchSeparator))
	}
	return fmt.Sprintf(promptTemplate, languageName(target), note, input)
}

// languageName turns a BCP 47 code into an English language name.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
