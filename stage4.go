package main

import (
	"fmt"
	"log"
	"math"
	"sort"
)

// CalculateFinalRanking is stage 4: deterministic aggregation of the peer
// scores, no model calls. A reviewer's scores count only when its query
// succeeded, at least one score parsed, and the score count matches the
// expected peer count exactly; everything else is recorded in the scoring
// summary with a reason. Answers with no valid scores rank with 0.0.
func CalculateFinalRanking(stage1 []Stage1Result, stage2 []Stage2Result) Stage4Result {
	result := Stage4Result{
		Rankings:       []RankingEntry{},
		ScoringSummary: map[string]ScoringValidity{},
		Timestamp:      IsoTimestamp(),
	}

	var valid []Stage1Result
	for _, r := range stage1 {
		if r.Error == "" {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		result.Error = "no valid responses"
		return result
	}

	// Labels here reproduce the stage-2 assignment: stage-1 outcome order
	// over the successful answers.
	labels := make([]string, len(valid))
	labelToModel := make(map[string]string, len(valid))
	for i, r := range valid {
		labels[i] = fmt.Sprintf("#%d", i+1)
		labelToModel[labels[i]] = r.Model
	}

	expected := len(valid) - 1

	// Every Stage-2 outcome gets a summary entry, failed and skipped
	// reviewers included, so the ranking can report why each model's
	// scores did or did not count.
	validScores := make(map[string][]float64, len(labels))
	for _, s := range stage2 {
		validity := ScoringValidity{Expected: expected, Actual: len(s.Scores)}
		switch {
		case s.Error != "":
			validity.Reason = fmt.Sprintf("query failed: %s", s.Error)
		case !s.Participated:
			validity.Reason = s.SkipReason
		case len(s.Scores) == 0:
			validity.Reason = "no scores could be parsed from the review"
		case len(s.Scores) != expected:
			validity.Reason = fmt.Sprintf("scored wrong number of answers: expected %d, got %d", expected, len(s.Scores))
		default:
			validity.Valid = true
		}
		result.ScoringSummary[s.Model] = validity

		if !validity.Valid {
			log.Printf("Stage 4: discarding scores from %s: %s", s.Model, validity.Reason)
			continue
		}
		result.ValidScorerCount++
		for label, score := range s.Scores {
			validScores[label] = append(validScores[label], score)
		}
	}

	entries := make([]RankingEntry, len(valid))
	for i, r := range valid {
		label := labels[i]
		scores := validScores[label]
		avg := 0.0
		if len(scores) > 0 {
			sum := 0.0
			for _, s := range scores {
				sum += s
			}
			avg = sum / float64(len(scores))
		}

		entry := RankingEntry{
			Label:      label,
			Model:      r.Model,
			AvgScore:   math.Round(avg*100) / 100,
			ScoreCount: len(scores),
			Response:   r.Response,
		}
		if v, ok := result.ScoringSummary[r.Model]; ok {
			entry.ScorerValid = v.Valid
			entry.ScorerReason = v.Reason
		}
		entries[i] = entry
	}

	// Higher average wins; ties keep label order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AvgScore > entries[j].AvgScore
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	result.Rankings = entries
	result.BestAnswer = entries[0].Response

	log.Printf("Stage 4: ranked %d answers, %d valid scorers", len(entries), result.ValidScorerCount)
	return result
}
