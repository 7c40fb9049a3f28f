package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gwi.com/docqa/internal/llm"
)

const systemGuidance = `You are a helpful document assistant that answers questions based on the provided document context.

Key guidelines:
1. Answer questions accurately based on the document content provided
2. If relevant images or tables are available, mention them in your response (e.g., "As shown in Figure 1..." or "The results in Table 1 indicate...")
3. If you're not sure about something, say so rather than making up information
4. Keep responses concise but informative
5. Use the conversation history to maintain context for follow-up questions
6. Format your responses with clear structure when appropriate (bullet points, numbered lists)`

const NoContextText = "No relevant context found in the document."

const (
	historyWindow       = 6
	historyContentChars = 1000
	contextContentChars = 500

	completionTemperature = 0.7
	completionMaxTokens   = 1000
)

type ResponseComposer struct {
	completer llm.Completer
	timeout   time.Duration
}

func NewResponseComposer(completer llm.Completer, timeout time.Duration) *ResponseComposer {
	return &ResponseComposer{completer: completer, timeout: timeout}
}

func (c *ResponseComposer) Compose(ctx context.Context, query string, items []ContextItem, history []llm.Message, media Media) (string, error) {
	messages := buildMessages(query, items, history, media)

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	answer, err := c.completer.Complete(callCtx, messages, llm.CompletionOptions{
		Temperature: completionTemperature,
		MaxTokens:   completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return answer, nil
}

func buildMessages(query string, items []ContextItem, history []llm.Message, media Media) []llm.Message {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: buildSystemPrompt(media)})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: truncate(h.Content, historyContentChars)})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: buildUserPrompt(query, buildContextText(items), media),
	})
	return messages
}

func buildSystemPrompt(media Media) string {
	var b strings.Builder
	b.WriteString(systemGuidance)
	if n := len(media.Images); n > 0 {
		fmt.Fprintf(&b, "\n\nNote: %d relevant image(s) will be displayed with your response.", n)
	}
	if n := len(media.Tables); n > 0 {
		fmt.Fprintf(&b, "\n\nNote: %d relevant table(s) will be displayed with your response.", n)
	}
	return b.String()
}

func buildContextText(items []ContextItem) string {
	if len(items) == 0 {
		return NoContextText
	}
	parts := make([]string, 0, len(items))
	for i, item := range items {
		parts = append(parts, fmt.Sprintf("[Source %d, Page %d, Relevance: %.2f]\n%s",
			i+1, item.Chunk.PageNumber, item.Score, truncate(item.Chunk.Content, contextContentChars)))
	}
	return strings.Join(parts, "\n\n")
}

func buildUserPrompt(query, contextText string, media Media) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following document context, please answer this question: %s\n\n", query)
	b.WriteString("--- DOCUMENT CONTEXT ---\n")
	b.WriteString(contextText)
	b.WriteString("\n--- END CONTEXT ---")

	if len(media.Images) > 0 {
		b.WriteString("\n\nAvailable images:")
		for _, img := range media.Images {
			fmt.Fprintf(&b, "\n- %s (Page %d)", captionOrDefault(img.Caption), img.PageNumber)
		}
	}
	if len(media.Tables) > 0 {
		b.WriteString("\n\nAvailable tables:")
		for _, tbl := range media.Tables {
			fmt.Fprintf(&b, "\n- %s (Page %d, %dx%d)", captionOrDefault(tbl.Caption), tbl.PageNumber, tbl.Rows, tbl.Columns)
		}
	}

	b.WriteString("\n\nPlease provide a helpful answer, referencing the images and tables when relevant.")
	return b.String()
}

func captionOrDefault(caption string) string {
	if caption == "" {
		return "No caption"
	}
	return caption
}
