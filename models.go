package main

import "time"

// Wire dialects an endpoint can speak.
const (
	DialectOpenAI    = "openai"
	DialectAnthropic = "anthropic"
)

// ModelEndpoint is one configured backend, derived from the provider list.
// The Name is the composite "model/provider" identifier used everywhere in
// the pipeline; the request body's model field strips the provider suffix.
type ModelEndpoint struct {
	Name     string `json:"name" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	APIKey   string `json:"-" yaml:"api_key"`
	Dialect  string `json:"dialect" yaml:"dialect"`
	Provider string `json:"provider" yaml:"provider"`
}

// ChatMessage is one message in a chat-completion request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a named blob of extracted text included in a query.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Stage1Result is the terminal outcome for one requested model. Exactly one
// exists per requested model, failures included.
type Stage1Result struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// RetryNotice is an interim stage-1 progress item emitted while a model's
// gateway call is being retried.
type RetryNotice struct {
	Model      string `json:"model"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
}

// Stage1Event is one item of the stage-1 progress stream: either a retry
// notice or a terminal outcome, never both.
type Stage1Event struct {
	Retry  *RetryNotice  `json:"retry,omitempty"`
	Result *Stage1Result `json:"result,omitempty"`
}

// LabelMapping is the fixed label-to-model bijection for one run, built once
// after stage-1 filtering and emitted before any score that references it.
type LabelMapping struct {
	LabelToModel map[string]string `json:"label_to_model"`
	Timestamp    string            `json:"timestamp"`
}

// Stage2Result is one reviewer's outcome. Every originally-requested model
// gets exactly one, including models that never reviewed (Participated false
// with a SkipReason).
type Stage2Result struct {
	Model         string             `json:"model"`
	Scores        map[string]float64 `json:"scores"`
	RawText       string             `json:"raw_text"`
	Timestamp     string             `json:"timestamp"`
	Participated  bool               `json:"participated"`
	SkipReason    string             `json:"skip_reason,omitempty"`
	ExpectedCount int                `json:"expected_count,omitempty"`
	ActualCount   int                `json:"actual_count"`
	Error         string             `json:"error,omitempty"`
}

// Stage2Event is one item of the stage-2 progress stream: the label mapping
// (emitted first, exactly once) or a reviewer outcome.
type Stage2Event struct {
	Labels *LabelMapping `json:"labels,omitempty"`
	Result *Stage2Result `json:"result,omitempty"`
}

// Stage3Result is the chairman's synthesis.
type Stage3Result struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// RankingEntry places one stage-1-successful answer in the final order.
// ScorerValid reports whether this model's own review counted in stage 4.
type RankingEntry struct {
	Rank         int     `json:"rank"`
	Label        string  `json:"label"`
	Model        string  `json:"model"`
	AvgScore     float64 `json:"avg_score"`
	ScoreCount   int     `json:"score_count"`
	Response     string  `json:"response"`
	ScorerValid  bool    `json:"scorer_valid"`
	ScorerReason string  `json:"scorer_reason,omitempty"`
}

// ScoringValidity records why a reviewer's scores were or were not counted.
type ScoringValidity struct {
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
}

// Stage4Result is the aggregated ranking.
type Stage4Result struct {
	Rankings         []RankingEntry             `json:"rankings"`
	BestAnswer       string                     `json:"best_answer"`
	ScoringSummary   map[string]ScoringValidity `json:"scoring_summary"`
	ValidScorerCount int                        `json:"valid_scorer_count"`
	Timestamp        string                     `json:"timestamp"`
	Error            string                     `json:"error,omitempty"`
}

// Message is a single entry in a conversation: a user turn (Content) or an
// assistant turn carrying the four stage results.
type Message struct {
	Role        string         `json:"role"`
	Timestamp   string         `json:"timestamp"`
	Content     string         `json:"content,omitempty"`
	Models      []string       `json:"models,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Stage1      []Stage1Result `json:"stage1,omitempty"`
	Stage2      []Stage2Result `json:"stage2,omitempty"`
	Stage3      *Stage3Result  `json:"stage3,omitempty"`
	Stage4      *Stage4Result  `json:"stage4,omitempty"`
}

// Conversation is the persisted record for one chat.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// ConversationMetadata is the list-view projection of a conversation.
type ConversationMetadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// SendMessageRequest is the body for the synchronous chat endpoint and for
// meeting creation.
type SendMessageRequest struct {
	Content     string       `json:"content"`
	Models      []string     `json:"models" binding:"required,min=1,max=20"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendMessageResponse bundles all four stage results.
type SendMessageResponse struct {
	Stage1 []Stage1Result `json:"stage1"`
	Stage2 []Stage2Result `json:"stage2"`
	Stage3 Stage3Result   `json:"stage3"`
	Stage4 Stage4Result   `json:"stage4"`
}

// IsoTimestamp returns the current UTC time in the ISO-8601 shape the
// persisted records use.
func IsoTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
