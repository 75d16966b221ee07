package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
)

type fakeChat struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: f.reply,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
		},
	}, nil
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestOpenAIBackendTranslate(t *testing.T) {
	chat := &fakeChat{reply: "Hallo\n---BLOCK_SEPARATOR---\nWelt"}
	b := newOpenAIBackend(chat, OpenAIConfig{Model: "gpt-test", BaseURL: "https://api.example.com/v1/chat/completions"})

	got, err := b.Translate(context.Background(), []string{"Hello", "World"}, "de")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Hallo", "Welt"}, got); diff != "" {
		t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
	}

	if len(chat.input) != 2 || chat.input[0].Role != schema.System {
		t.Fatalf("messages = %+v", chat.input)
	}
	user := chat.input[1].Content
	for _, want := range []string{"translate it into German", "2 blocks", "Hello" + BatchSeparator + "World"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt lacks %q:\n%s", want, user)
		}
	}

	p, c := b.Tokens()
	if p != 30 || c != 12 {
		t.Errorf("Tokens() = %d, %d", p, c)
	}
	if !strings.Contains(b.Fingerprint(), "gpt-test") || strings.Contains(b.Fingerprint(), "chat/completions") {
		t.Errorf("Fingerprint() = %q", b.Fingerprint())
	}
}

func TestOpenAIBackendErrors(t *testing.T) {
	chat := &fakeChat{reply: "only one part"}
	b := newOpenAIBackend(chat, OpenAIConfig{Model: "m"})
	_, err := b.Translate(context.Background(), []string{"a", "b"}, "zh")
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Errorf("Translate() error = %v, want MismatchError", err)
	}

	chat.err = errors.New("error, status code: 429, status: Too Many Requests, message: slow down")
	_, err = b.Translate(context.Background(), []string{"a"}, "zh")
	var be *BackendError
	if !errors.As(err, &be) || be.StatusCode != 429 || !be.Retryable() {
		t.Errorf("Translate() error = %v, want retryable 429", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://api.openai.com/v1":                   "https://api.openai.com/v1",
		"https://api.openai.com/v1/":                  "https://api.openai.com/v1",
		"https://api.openai.com/v1/chat/completions":  "https://api.openai.com/v1",
		"https://api.openai.com/v1/chat/completions/": "https://api.openai.com/v1",
		"": "",
	}
	for in, want := range tests {
		if got := NormalizeBaseURL(in); got != want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLanguageName(t *testing.T) {
	tests := map[string]string{"zh": "Chinese", "de": "German", "ja": "Japanese", "not a tag!": "not a tag!"}
	for in, want := range tests {
		if got := languageName(in); got != want {
			t.Errorf("languageName(%q) = %q, want %q", in, got, want)
		}
	}
}
