// ABOUTME: Anthropic messages generator streaming text deltas as fragments
// ABOUTME: Shares the per-thread history model with the OpenAI adapter

package generator

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/2389/converse-gateway/internal/config"
)

// Anthropic streams answers from the messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	system    string
	maxTokens int64
	history   *history
}

// NewAnthropic builds an adapter from cfg.
func NewAnthropic(cfg config.GeneratorConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		maxTokens: maxTokens,
		history:   newHistory(),
	}
}

// Open sends the thread history plus the new turn and streams the reply.
func (a *Anthropic) Open(ctx context.Context, req Request) (Stream, error) {
	user := turnText(req)
	prior := a.history.get(req.ThreadID)

	msgs := make([]anthropic.MessageParam, 0, len(prior)+1)
	for _, t := range prior {
		if t.assistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(user)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  msgs,
	}
	if sys := systemPrompt(a.system, req.UserInfo); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	return &anthropicStream{
		stream: a.client.Messages.NewStreaming(ctx, params),
		done: func(reply string) {
			a.history.add(req.ThreadID, turn{text: user}, turn{text: reply, assistant: true})
		},
	}, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur    Item
	reply  strings.Builder
	done   func(string)
	ended  bool
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		s.reply.WriteString(text.Text)
		s.cur = Text(text.Text)
		return true
	}
	if !s.ended && s.stream.Err() == nil {
		s.ended = true
		s.done(s.reply.String())
	}
	return false
}

func (s *anthropicStream) Item() Item { return s.cur }

func (s *anthropicStream) Err() error { return s.stream.Err() }

func (s *anthropicStream) Close() error { return s.stream.Close() }
