// ABOUTME: OpenAI chat completions generator streaming text deltas as fragments
// ABOUTME: Keeps per-thread history so resumed decisions continue the same exchange

package generator

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/2389/converse-gateway/internal/config"
)

// OpenAI streams answers from the chat completions API.
type OpenAI struct {
	client    openai.Client
	model     string
	system    string
	maxTokens int64
	history   *history
}

// NewOpenAI builds an adapter from cfg.
func NewOpenAI(cfg config.GeneratorConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		maxTokens: cfg.MaxTokens,
		history:   newHistory(),
	}
}

// Open sends the thread history plus the new turn and streams the reply.
func (o *OpenAI) Open(ctx context.Context, req Request) (Stream, error) {
	user := turnText(req)
	prior := o.history.get(req.ThreadID)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(prior)+3)
	if sys := systemPrompt(o.system, req.UserInfo); sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}
	for _, t := range prior {
		if t.assistant {
			msgs = append(msgs, openai.AssistantMessage(t.text))
		} else {
			msgs = append(msgs, openai.UserMessage(t.text))
		}
	}
	msgs = append(msgs, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}

	return &openAIStream{
		stream: o.client.Chat.Completions.NewStreaming(ctx, params),
		done: func(reply string) {
			o.history.add(req.ThreadID, turn{text: user}, turn{text: reply, assistant: true})
		},
	}, nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    Item
	reply  strings.Builder
	done   func(string)
	ended  bool
}

func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		s.reply.WriteString(text)
		s.cur = Text(text)
		return true
	}
	if !s.ended && s.stream.Err() == nil {
		s.ended = true
		s.done(s.reply.String())
	}
	return false
}

func (s *openAIStream) Item() Item { return s.cur }

func (s *openAIStream) Err() error { return s.stream.Err() }

func (s *openAIStream) Close() error { return s.stream.Close() }
