package main

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Score-line patterns. Pattern A accepts "#1: 8.5" with arbitrary trailing
// commentary (and a full-width colon, which some models emit); pattern B is
// the "#1=8" fallback tried only when A yields nothing.
var (
	scorePatternA = regexp.MustCompile(`#?(\d+)\s*[:：]\s*(\d+(?:\.\d+)?)`)
	scorePatternB = regexp.MustCompile(`#?(\d+)\s*=\s*(\d+(?:\.\d+)?)`)
)

// parseScores extracts a label-to-score map from free-form review text.
// Only labels in the valid set (minus the reviewer's own) and scores within
// [0,10] are accepted. Returns an empty map when nothing parses; judging
// whether the count is sufficient is stage 4's job.
func parseScores(scoreText string, labels []string, reviewerLabel string) map[string]float64 {
	scores := make(map[string]float64)
	if scoreText == "" || len(labels) == 0 {
		return scores
	}

	validLabels := make(map[string]bool, len(labels))
	for _, label := range labels {
		if label != reviewerLabel {
			validLabels[label] = true
		}
	}

	collect := func(pattern *regexp.Regexp) {
		for _, m := range pattern.FindAllStringSubmatch(scoreText, -1) {
			label := "#" + m[1]
			if !validLabels[label] {
				continue
			}
			score, err := strconv.ParseFloat(m[2], 64)
			if err != nil || score < 0 || score > 10 {
				continue
			}
			scores[label] = score
		}
	}

	collect(scorePatternA)
	if len(scores) == 0 {
		collect(scorePatternB)
	}

	if len(scores) == 0 {
		preview := scoreText
		if len(preview) > 200 {
			preview = preview[:200]
		}
		log.Printf("Failed to parse any scores from review text: %q", preview)
	}
	return scores
}

// buildReviewPrompt assembles the anonymous scoring prompt for one reviewer.
func buildReviewPrompt(query, contextBlob string, anonymized []string, reviewerLabel string) string {
	var b strings.Builder

	b.WriteString("You are an impartial reviewer. Score each of the following answers out of 10.\n")
	b.WriteString("\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n")

	if contextBlob != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(contextBlob)
		b.WriteString("\n")
	}

	b.WriteString("\nCandidate answers:\n")
	b.WriteString(strings.Join(anonymized, "\n\n"))

	b.WriteString("\n\nScore every answer on accuracy, completeness, clarity and usefulness.\n")
	b.WriteString("\nOutput your review in exactly this format, one answer per line:\n")
	b.WriteString("```\n")
	b.WriteString("#1: 8.5 - accurate and detailed, could be more concise.\n")
	b.WriteString("#2: 9.0 - covers every point clearly.\n")
	b.WriteString("```\n")

	if reviewerLabel != "" {
		b.WriteString(fmt.Sprintf("\nImportant: do NOT score [%s] - that is your own answer. Skip that number.\n", reviewerLabel))
	}
	b.WriteString("\nBegin scoring now:")
	return b.String()
}

// CollectScores is stage 2: anonymous peer review of the stage-1 successes.
// The label mapping is emitted as the first event, strictly before any
// reviewer outcome. Reviewer outcomes follow in completion order, and every
// model in the original request list yields exactly one outcome - models
// that failed stage 1 (or everything, when fewer than two answers survived)
// get a non-participating placeholder without any gateway call.
func (c *Council) CollectScores(ctx context.Context, query, contextBlob string, stage1 []Stage1Result, models []string) <-chan Stage2Event {
	out := make(chan Stage2Event)

	go func() {
		defer close(out)

		log.Printf("Stage 2: collecting anonymous scores")

		var valid []Stage1Result
		for _, r := range stage1 {
			if r.Error == "" {
				valid = append(valid, r)
			}
		}

		if len(valid) < 2 {
			log.Printf("Stage 2: only %d successful responses, skipping scoring", len(valid))
			for _, name := range models {
				out <- Stage2Event{Result: &Stage2Result{
					Model:        name,
					Scores:       map[string]float64{},
					Timestamp:    IsoTimestamp(),
					Participated: false,
					SkipReason:   "too few successful responses to score (need at least 2)",
				}}
			}
			return
		}

		// Labels are fixed here, in stage-1 outcome order, for the rest
		// of the run. Every score below is interpreted against this map.
		labels := make([]string, len(valid))
		labelToModel := make(map[string]string, len(valid))
		reviewerLabels := make(map[string]string, len(valid))
		anonymized := make([]string, len(valid))
		for i, r := range valid {
			label := fmt.Sprintf("#%d", i+1)
			labels[i] = label
			labelToModel[label] = r.Model
			reviewerLabels[r.Model] = label
			anonymized[i] = fmt.Sprintf("[%s]\n%s", label, r.Response)
		}

		out <- Stage2Event{Labels: &LabelMapping{LabelToModel: labelToModel, Timestamp: IsoTimestamp()}}

		// Models that never produced an answer are excluded from the
		// fan-out but still appear in the per-model accounting.
		for _, name := range models {
			if _, eligible := reviewerLabels[name]; !eligible {
				out <- Stage2Event{Result: &Stage2Result{
					Model:        name,
					Scores:       map[string]float64{},
					Timestamp:    IsoTimestamp(),
					Participated: false,
					SkipReason:   "model failed in stage 1",
				}}
			}
		}

		expected := len(valid) - 1
		opts := c.settings.QueryOptions()

		maxConcurrent := c.settings.MaxConcurrent
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		sem := semaphore.NewWeighted(int64(maxConcurrent))

		var wg sync.WaitGroup
		for _, r := range valid {
			reviewer := r.Model
			reviewerLabel := reviewerLabels[reviewer]

			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := sem.Acquire(ctx, 1); err != nil {
					out <- Stage2Event{Result: &Stage2Result{
						Model:        reviewer,
						Scores:       map[string]float64{},
						Timestamp:    IsoTimestamp(),
						Participated: false,
						SkipReason:   fmt.Sprintf("query failed: %s", err),
						Error:        err.Error(),
					}}
					return
				}
				defer sem.Release(1)

				prompt := buildReviewPrompt(query, contextBlob, anonymized, reviewerLabel)
				res := c.gateway.Query(ctx, c.configs[reviewer], []ChatMessage{{Role: "user", Content: prompt}}, opts, nil)

				if res.Error != "" {
					out <- Stage2Event{Result: &Stage2Result{
						Model:        reviewer,
						Scores:       map[string]float64{},
						Timestamp:    res.Timestamp,
						Participated: false,
						SkipReason:   fmt.Sprintf("query failed: %s", res.Error),
						Error:        res.Error,
					}}
					return
				}

				scores := parseScores(res.Response, labels, reviewerLabel)
				log.Printf("Model %s scored %d answers (expected %d)", reviewer, len(scores), expected)

				// Participation only records that the query itself
				// succeeded; whether the score count is acceptable
				// is decided in stage 4.
				out <- Stage2Event{Result: &Stage2Result{
					Model:         reviewer,
					Scores:        scores,
					RawText:       res.Response,
					Timestamp:     res.Timestamp,
					Participated:  true,
					ExpectedCount: expected,
					ActualCount:   len(scores),
				}}
			}()
		}

		wg.Wait()
		log.Printf("Stage 2: complete")
	}()

	return out
}
