// Package answer turns retrieved context and a question into a generated
// answer via the configured LLM chat backend. Conversation history is
// injected per session and trimmed to a token budget before each call.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/studyrag/studyrag-go/internal/budget"
)

// Sentinel generation failures. Handlers map these onto degraded responses
// rather than opaque 500s.
var (
	// ErrEmptyResponse indicates the model returned no usable content.
	ErrEmptyResponse = errors.New("answer: model returned an empty response")
	// ErrTruncatedResponse indicates the model stopped at the token limit.
	// The partial answer is still returned alongside it.
	ErrTruncatedResponse = errors.New("answer: response truncated at token limit")
)

// History defaults.
const (
	// DefaultHistoryDepth is how many prior turns are injected per question.
	DefaultHistoryDepth = 10
	// historyTurnBudget caps each injected history turn's length in
	// characters. Old turns only need to carry the gist.
	historyTurnBudget = 300
)

// Turn is one prior exchange in a question-answering session. The JSON tags
// are the wire shape clients use to supply their own history.
type Turn struct {
	// Role is schema.User or schema.Assistant.
	Role string `json:"role"`
	// Content is the turn's text.
	Content string `json:"content"`
}

// Request carries everything the generator needs for one answer.
type Request struct {
	// Question is the student's question.
	Question string
	// Context is the assembled, source-labelled retrieval context.
	Context string
	// SyllabusTopic optionally names the syllabus topic the question maps to.
	SyllabusTopic string
	// Marks optionally carries the exam weight, steering answer depth.
	Marks int
	// History holds prior session turns, oldest first.
	History []Turn
}

// Generator produces answers through an eino ChatModel.
type Generator struct {
	// Model is the chat backend from the provider factory.
	Model model.BaseChatModel

	// HistoryDepth is how many prior turns to inject. Zero means
	// DefaultHistoryDepth.
	HistoryDepth int

	// MaxContextTokens is the estimated input budget; history is trimmed
	// oldest-first to fit. Zero means budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Log receives structured generation events.
	Log *slog.Logger
}

// Answer generates an answer for the request. A truncated response returns
// the partial text together with ErrTruncatedResponse so callers can decide
// whether to surface it.
func (g *Generator) Answer(ctx context.Context, req *Request) (string, error) {
	msg, err := g.Model.Generate(ctx, g.buildMessages(req))
	if err != nil {
		return "", fmt.Errorf("answer: generate: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", ErrEmptyResponse
	}

	text := strings.TrimSpace(msg.Content)
	if msg.ResponseMeta != nil && strings.EqualFold(msg.ResponseMeta.FinishReason, "length") {
		g.Log.Warn("answer: response hit the token limit",
			slog.Int("chars", len(text)),
		)
		return text, ErrTruncatedResponse
	}
	return text, nil
}

// buildMessages assembles system prompt, trimmed history and the final user
// message.
func (g *Generator) buildMessages(req *Request) []*schema.Message {
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(buildUserPrompt(req.Question, req.Context, req.SyllabusTopic, req.Marks))

	depth := g.HistoryDepth
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	turns := req.History
	if len(turns) > depth*2 {
		turns = turns[len(turns)-depth*2:]
	}

	var history []*schema.Message
	for _, t := range turns {
		content := t.Content
		if len(content) > historyTurnBudget {
			content = clipRunes(content, historyTurnBudget) + "..."
		}
		switch t.Role {
		case string(schema.User):
			history = append(history, schema.UserMessage(content))
		case string(schema.Assistant):
			history = append(history, schema.AssistantMessage(content, nil))
		}
	}

	maxTokens := g.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	before := len(history)
	history = budget.TrimHistory([]*schema.Message{system, user}, history, maxTokens)
	if dropped := before - len(history); dropped > 0 {
		g.Log.Warn("answer: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
		)
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, system)
	messages = append(messages, history...)
	messages = append(messages, user)
	return messages
}

// clipRunes truncates s to at most max bytes without splitting a rune, so
// trimmed history never carries invalid UTF-8 into the model call.
func clipRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
