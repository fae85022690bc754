// Package openaiadapter implements mcos.ModelAdapter against the OpenAI
// API via github.com/sashabaranov/go-openai, replacing the teacher's
// hand-rolled HTTP client with the ecosystem's standard Go SDK.
package openaiadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// ModelAdapter adapts an OpenAI client into mcos.ModelAdapter.
type ModelAdapter struct {
	log            *logger.Logger
	client         *openai.Client
	embedModel     string
	chatModel      string
}

type Option func(*ModelAdapter)

func WithEmbedModel(model string) Option { return func(m *ModelAdapter) { m.embedModel = model } }
func WithChatModel(model string) Option  { return func(m *ModelAdapter) { m.chatModel = model } }

func New(log *logger.Logger, apiKey string, opts ...Option) (*ModelAdapter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	m := &ModelAdapter{
		log:        log.With("client", "OpenAIModelAdapter"),
		client:     openai.NewClient(apiKey),
		embedModel: string(openai.SmallEmbedding3),
		chatModel:  openai.GPT4oMini,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *ModelAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(m.embedModel),
	})
	if err != nil {
		return nil, classify("Embed", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (m *ModelAdapter) Summarize(ctx context.Context, existingSummary string, newTurns []mcos.Turn) (string, error) {
	var b strings.Builder
	b.WriteString("You maintain a rolling summary of a conversation. ")
	b.WriteString("Fold the new turns into the existing summary, keeping it concise.\n\n")
	b.WriteString("Existing summary:\n")
	if existingSummary == "" {
		b.WriteString("(none yet)\n\n")
	} else {
		b.WriteString(existingSummary + "\n\n")
	}
	b.WriteString("New turns:\n")
	for _, t := range newTurns {
		fmt.Fprintf(&b, "[user] %s\n[assistant] %s\n", t.UserText, t.AssistantText)
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", classify("Summarize", err)
	}
	if len(resp.Choices) == 0 {
		return existingSummary, nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *ModelAdapter) ExtractProfileFields(ctx context.Context, turn mcos.Turn) (map[string]mcos.FieldUpdate, error) {
	prompt := fmt.Sprintf(
		`Extract any stable user-profile facts from this message as "field: value (confidence 0-1)" lines, one per line. If none, reply "none".

Message: %s
Reply: %s`, turn.UserText, turn.AssistantText)

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, classify("ExtractProfileFields", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return parseFieldUpdates(resp.Choices[0].Message.Content), nil
}

// imageRequestPhrases and documentQueryPhrases are the keyword lists
// ClassifyIntent matches first; it then checks its own inline list of
// past-reference phrases. ContextAssembler checks the recall-trigger
// phrases in internal/mcos before calling it.
var (
	imageRequestPhrases  = []string{"generate an image", "draw me", "create a picture", "make an image"}
	documentQueryPhrases = []string{"in the document", "in this file", "according to the pdf", "in the attachment"}
)

// ClassifyIntent is a keyword matcher over the message text: it does not
// call the model, since the tags it needs to distinguish are cheap to
// detect lexically and a classifier call on every turn would be wasteful.
func (m *ModelAdapter) ClassifyIntent(ctx context.Context, message string) (string, error) {
	lower := strings.ToLower(message)
	for _, phrase := range imageRequestPhrases {
		if strings.Contains(lower, phrase) {
			return mcos.IntentImageRequest, nil
		}
	}
	for _, phrase := range documentQueryPhrases {
		if strings.Contains(lower, phrase) {
			return mcos.IntentDocumentQuery, nil
		}
	}
	for _, phrase := range []string{"remember", "earlier", "last time", "we discussed", "you said", "my name", "my preferences"} {
		if strings.Contains(lower, phrase) {
			return mcos.IntentReferencesPast, nil
		}
	}
	return mcos.IntentNormal, nil
}

// parseFieldUpdates parses the "field: value (confidence 0-1)" line format
// requested in the extraction prompt above.
func parseFieldUpdates(text string) map[string]mcos.FieldUpdate {
	out := map[string]mcos.FieldUpdate{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		field := strings.TrimSpace(parts[0])
		rest := strings.TrimSpace(parts[1])

		confidence := 0.5
		value := rest
		if idx := strings.LastIndex(rest, "("); idx != -1 && strings.HasSuffix(rest, ")") {
			value = strings.TrimSpace(rest[:idx])
			confStr := strings.TrimSuffix(rest[idx+1:], ")")
			confStr = strings.TrimSpace(strings.TrimPrefix(confStr, "confidence"))
			confStr = strings.TrimSpace(confStr)
			if f, err := strconv.ParseFloat(confStr, 64); err == nil {
				confidence = f
			}
		}
		if field == "" || value == "" {
			continue
		}
		out[field] = mcos.FieldUpdate{Value: value, Confidence: confidence}
	}
	return out
}

func classify(op string, err error) error {
	return mcos.NewError(op, mcos.KindTransient, err)
}
