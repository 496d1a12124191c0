package main

import (
	"context"
	"fmt"
	"strings"
)

// ContextTurns is how many recent Q/A turns are rendered into the context
// blob passed to every stage prompt.
const ContextTurns = 3

// Council runs the four-stage pipeline for one query against an injected
// gateway and a fixed snapshot of endpoint configuration.
type Council struct {
	gateway  ModelQuerier
	configs  map[string]ModelEndpoint
	chairman string
	settings Settings
}

// NewCouncil builds a council over the given gateway and configuration
// snapshot. The snapshot is read-only for the lifetime of a run.
func NewCouncil(gateway ModelQuerier, configs map[string]ModelEndpoint, chairman string, settings Settings) *Council {
	return &Council{gateway: gateway, configs: configs, chairman: chairman, settings: settings}
}

// buildContext renders the most recent maxTurns exchanges as a "Q:/A:" blob.
// The answer for each turn is the chairman synthesis of the assistant
// message; turns without one are skipped.
func buildContext(history []Message, maxTurns int) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(history) > maxTurns*2 {
		recent = history[len(history)-maxTurns*2:]
	}

	var parts []string
	userMsg := ""
	for _, msg := range recent {
		switch msg.Role {
		case "user":
			userMsg = msg.Content
		case "assistant":
			if userMsg == "" || msg.Stage3 == nil || msg.Stage3.Response == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", userMsg, msg.Stage3.Response))
			userMsg = ""
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildStage1Prompt assembles the shared prompt every council member answers:
// instructions, formatting rules, conversation context, attachments, query.
func buildStage1Prompt(query, contextBlob string, attachments []Attachment) string {
	var b strings.Builder

	b.WriteString("You are a professional AI assistant. Answer the user's question using the information below.\n")
	b.WriteString("\nFormatting rules (follow strictly):\n")
	b.WriteString("- Inline math: $f(x) = x^2$; display math on its own lines between $$ delimiters.\n")
	b.WriteString("- Never use \\[...\\], \\(...\\) or bare [...] as math delimiters.\n")
	b.WriteString("- Use standard Markdown for tables, fenced code blocks with a language tag, headings and lists.\n")

	if contextBlob != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(contextBlob)
		b.WriteString("\n")
	}

	if len(attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for i, att := range attachments {
			name := att.Name
			if name == "" {
				name = fmt.Sprintf("attachment %d", i+1)
			}
			b.WriteString(fmt.Sprintf("\n[%s]\n%s\n", name, att.Content))
		}
	}

	b.WriteString("\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n\nProvide a detailed, accurate answer.")
	return b.String()
}

// RunCouncil executes all four stages sequentially, draining the streaming
// stages to completion. This is the synchronous entry point; the meeting
// registry consumes the stage streams directly instead.
func (c *Council) RunCouncil(ctx context.Context, query, contextBlob string, attachments []Attachment, models []string) ([]Stage1Result, []Stage2Result, Stage3Result, Stage4Result) {
	var stage1 []Stage1Result
	for ev := range c.CollectResponses(ctx, query, contextBlob, attachments, models) {
		if ev.Result != nil {
			stage1 = append(stage1, *ev.Result)
		}
	}

	var stage2 []Stage2Result
	for ev := range c.CollectScores(ctx, query, contextBlob, stage1, models) {
		if ev.Result != nil {
			stage2 = append(stage2, *ev.Result)
		}
	}

	stage3 := c.SynthesizeFinal(ctx, query, contextBlob, stage1, stage2)
	stage4 := CalculateFinalRanking(stage1, stage2)
	return stage1, stage2, stage3, stage4
}

// GenerateTitle asks the chairman model for a 3-5 word conversation title.
func (c *Council) GenerateTitle(ctx context.Context, query, response string) (string, error) {
	endpoint, ok := c.configs[c.chairman]
	if !ok {
		return "", fmt.Errorf("chairman model %s is not configured", c.chairman)
	}

	summary := response
	if runes := []rune(summary); len(runes) > 500 {
		summary = string(runes[:500])
	}
	prompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following exchange.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Answer: %s

Title:`, query, summary)

	opts := c.settings.QueryOptions()
	opts.MaxRetries = 1
	result := c.gateway.Query(ctx, endpoint, []ChatMessage{{Role: "user", Content: prompt}}, opts, nil)
	if result.Error != "" {
		return "", fmt.Errorf("title generation failed: %s", result.Error)
	}

	title := strings.TrimSpace(result.Response)
	title = strings.Trim(title, "\"'")
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	return title, nil
}
