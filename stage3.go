package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// buildChairmanPrompt enumerates every expert answer (or error) and every
// reviewer's scores (or error) for the synthesis request.
func buildChairmanPrompt(query, contextBlob string, stage1 []Stage1Result, stage2 []Stage2Result) string {
	var b strings.Builder

	b.WriteString("You are the council chairman. Synthesize all expert opinions below into one final answer with a clear explanation.\n")
	b.WriteString("\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n")

	if contextBlob != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(contextBlob)
		b.WriteString("\n")
	}

	b.WriteString("\nExpert answers:\n")
	for i, r := range stage1 {
		if r.Error != "" {
			b.WriteString(fmt.Sprintf("\n[Expert %d - %s] (failed: %s)\n", i+1, r.Model, r.Error))
		} else {
			b.WriteString(fmt.Sprintf("\n[Expert %d - %s]\n%s\n", i+1, r.Model, r.Response))
		}
	}

	if len(stage2) > 0 {
		b.WriteString("\nPeer scores:\n")
		for i, r := range stage2 {
			if r.Error != "" {
				b.WriteString(fmt.Sprintf("\n[Reviewer %d - %s] (failed: %s)\n", i+1, r.Model, r.Error))
				continue
			}
			pairs := make([]string, 0, len(r.Scores))
			for label, score := range r.Scores {
				pairs = append(pairs, fmt.Sprintf("%s: %.1f", label, score))
			}
			sort.Strings(pairs)
			b.WriteString(fmt.Sprintf("\n[Reviewer %d - %s] %s\n", i+1, r.Model, strings.Join(pairs, ", ")))
		}
	}

	b.WriteString("\nCombine all of the above into one comprehensive, accurate and clear final answer, with detailed reasoning.")
	return b.String()
}

// SynthesizeFinal is stage 3: a single call to the designated chairman model
// carrying every stage-1 answer and stage-2 score. A missing chairman
// configuration or a failed call yields an error result, never a crash -
// stage 4 runs either way.
func (c *Council) SynthesizeFinal(ctx context.Context, query, contextBlob string, stage1 []Stage1Result, stage2 []Stage2Result) Stage3Result {
	log.Printf("Stage 3: chairman %s synthesizing final answer", c.chairman)

	endpoint, ok := c.configs[c.chairman]
	if !ok || c.chairman == "" {
		msg := fmt.Sprintf("chairman model %q is not configured", c.chairman)
		log.Print(msg)
		return Stage3Result{Model: c.chairman, Timestamp: IsoTimestamp(), Error: msg}
	}

	prompt := buildChairmanPrompt(query, contextBlob, stage1, stage2)
	res := c.gateway.Query(ctx, endpoint, []ChatMessage{{Role: "user", Content: prompt}}, c.settings.QueryOptions(), nil)

	result := Stage3Result{
		Model:     c.chairman,
		Response:  res.Response,
		Timestamp: res.Timestamp,
		Error:     res.Error,
	}
	if result.Response != "" {
		result.Response = ConvertLatexFormat(result.Response)
	}

	log.Printf("Stage 3: complete")
	return result
}
