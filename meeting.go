package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of one council meeting.
type MeetingStatus string

const (
	StatusPending   MeetingStatus = "pending"
	StatusStage1    MeetingStatus = "stage1"
	StatusStage2    MeetingStatus = "stage2"
	StatusStage3    MeetingStatus = "stage3"
	StatusStage4    MeetingStatus = "stage4"
	StatusCompleted MeetingStatus = "completed"
	StatusFailed    MeetingStatus = "failed"
	StatusCancelled MeetingStatus = "cancelled"
)

// Terminal reports whether the meeting has reached a final state.
func (s MeetingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MeetingProgress accumulates stage results as the pipeline runs.
type MeetingProgress struct {
	Stage1Results []Stage1Result `json:"stage1_results"`
	Stage2Results []Stage2Result `json:"stage2_results"`
	Labels        *LabelMapping  `json:"labels,omitempty"`
	Stage3Result  *Stage3Result  `json:"stage3_result,omitempty"`
	Stage4Result  *Stage4Result  `json:"stage4_result,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Meeting is one in-flight or finished council run. All mutation happens in
// the run goroutine under the registry lock; handlers only read snapshots.
type Meeting struct {
	ID             string
	ConversationID string
	Query          string
	Models         []string
	Attachments    []Attachment
	Status         MeetingStatus
	Progress       MeetingProgress
	CreatedAt      string
	UpdatedAt      string

	cancel      context.CancelFunc
	subscribers []chan Event
}

// MeetingView is the JSON projection of a meeting returned by the API and
// embedded in snapshot events.
type MeetingView struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Query          string          `json:"query"`
	Models         []string        `json:"models"`
	Status         MeetingStatus   `json:"status"`
	Progress       MeetingProgress `json:"progress"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// subscriberBuffer is the per-subscriber queue depth. A subscriber that falls
// this far behind starts losing events but keeps its subscription; the next
// snapshot on reconnect catches it up.
const subscriberBuffer = 256

// MeetingRegistry owns every live meeting. One lock guards the meeting map
// and all per-meeting state; stage consumption happens in a single goroutine
// per meeting so writers never race.
type MeetingRegistry struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	cfg      *Config
	store    *ConversationStore
	gateway  ModelQuerier
}

// NewMeetingRegistry builds an empty registry over the given dependencies.
func NewMeetingRegistry(cfg *Config, store *ConversationStore, gateway ModelQuerier) *MeetingRegistry {
	return &MeetingRegistry{
		meetings: make(map[string]*Meeting),
		cfg:      cfg,
		store:    store,
		gateway:  gateway,
	}
}

// CreateMeeting registers a meeting for a conversation whose user message is
// already persisted, and starts its pipeline in the background.
func (r *MeetingRegistry) CreateMeeting(conversationID, query string, attachments []Attachment, models []string) *Meeting {
	ctx, cancel := context.WithCancel(context.Background())
	now := IsoTimestamp()
	m := &Meeting{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Query:          query,
		Models:         models,
		Attachments:    attachments,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		cancel:         cancel,
	}

	r.mu.Lock()
	r.meetings[m.ID] = m
	r.mu.Unlock()

	go r.run(ctx, m)
	return m
}

func (r *MeetingRegistry) view(m *Meeting) MeetingView {
	return MeetingView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Query:          m.Query,
		Models:         m.Models,
		Status:         m.Status,
		Progress:       m.Progress,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// update applies a mutation to the meeting and broadcasts the given event to
// every subscriber, all under the registry lock. A full subscriber queue
// drops the event rather than blocking the pipeline.
func (r *MeetingRegistry) update(m *Meeting, mutate func(*Meeting), ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mutate != nil {
		mutate(m)
		m.UpdatedAt = IsoTimestamp()
	}
	if ev == nil {
		return
	}
	for _, sub := range m.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// run drives the four stages for one meeting. It is the only goroutine that
// mutates the meeting.
func (r *MeetingRegistry) run(ctx context.Context, m *Meeting) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Meeting %s panicked: %v", m.ID, rec)
			r.fail(m, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	conv, err := r.store.Get(m.ConversationID)
	if err != nil || conv == nil {
		r.fail(m, fmt.Sprintf("conversation %s not found", m.ConversationID))
		return
	}

	// Context excludes the user message that started this meeting.
	history := conv.Messages
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	contextBlob := buildContext(history, ContextTurns)

	council := NewCouncil(r.gateway, r.cfg.ModelConfigs(), r.cfg.Chairman(), r.cfg.Settings())

	// Stage 1.
	r.update(m, func(m *Meeting) { m.Status = StatusStage1 }, StageStartEvent{Stage: 1, Message: "Querying council members"})
	stage1Ch := council.CollectResponses(ctx, m.Query, contextBlob, m.Attachments, m.Models)
	var stage1 []Stage1Result
	for ev := range stage1Ch {
		if ev.Result != nil {
			result := ev.Result
			stage1 = append(stage1, *result)
			r.update(m, func(m *Meeting) { m.Progress.Stage1Results = append(m.Progress.Stage1Results, *result) },
				Stage1ProgressEvent{Result: result})
		} else if ev.Retry != nil {
			r.update(m, nil, Stage1ProgressEvent{Retry: ev.Retry})
		}
		if ctx.Err() != nil {
			r.cancelled(m, func() {
				for range stage1Ch {
				}
			})
			return
		}
	}
	r.update(m, nil, Stage1CompleteEvent{Results: stage1})
	if ctx.Err() != nil {
		r.cancelled(m, nil)
		return
	}

	// Stage 2.
	r.update(m, func(m *Meeting) { m.Status = StatusStage2 }, StageStartEvent{Stage: 2, Message: "Collecting anonymous peer reviews"})
	stage2Ch := council.CollectScores(ctx, m.Query, contextBlob, stage1, m.Models)
	var stage2 []Stage2Result
	for ev := range stage2Ch {
		if ev.Labels != nil {
			labels := ev.Labels
			r.update(m, func(m *Meeting) { m.Progress.Labels = labels }, LabelMappingEvent{Labels: *labels})
		} else if ev.Result != nil {
			result := ev.Result
			stage2 = append(stage2, *result)
			r.update(m, func(m *Meeting) { m.Progress.Stage2Results = append(m.Progress.Stage2Results, *result) },
				Stage2ProgressEvent{Result: result})
		}
		if ctx.Err() != nil {
			r.cancelled(m, func() {
				for range stage2Ch {
				}
			})
			return
		}
	}
	r.update(m, nil, Stage2CompleteEvent{Results: stage2})
	if ctx.Err() != nil {
		r.cancelled(m, nil)
		return
	}

	// Stage 3.
	r.update(m, func(m *Meeting) { m.Status = StatusStage3 }, StageStartEvent{Stage: 3, Message: "Chairman synthesizing final answer"})
	stage3 := council.SynthesizeFinal(ctx, m.Query, contextBlob, stage1, stage2)
	r.update(m, func(m *Meeting) { m.Progress.Stage3Result = &stage3 }, Stage3CompleteEvent{Result: stage3})
	if ctx.Err() != nil {
		r.cancelled(m, nil)
		return
	}

	// Stage 4.
	r.update(m, func(m *Meeting) { m.Status = StatusStage4 }, StageStartEvent{Stage: 4, Message: "Aggregating final ranking"})
	stage4 := CalculateFinalRanking(stage1, stage2)
	r.update(m, func(m *Meeting) { m.Progress.Stage4Result = &stage4 }, Stage4CompleteEvent{Result: stage4})

	if _, err := r.store.AddAssistantMessage(m.ConversationID, stage1, stage2, stage3, stage4); err != nil {
		log.Printf("Meeting %s: failed to persist result: %v", m.ID, err)
	}

	r.maybeGenerateTitle(ctx, council, m, stage3)

	r.update(m, func(m *Meeting) { m.Status = StatusCompleted }, CompleteEvent{Message: "Meeting complete"})
	log.Printf("Meeting %s completed", m.ID)
}

// maybeGenerateTitle names the conversation after its first full exchange.
func (r *MeetingRegistry) maybeGenerateTitle(ctx context.Context, council *Council, m *Meeting, stage3 Stage3Result) {
	if stage3.Error != "" || stage3.Response == "" {
		return
	}
	conv, err := r.store.Get(m.ConversationID)
	if err != nil || conv == nil || len(conv.Messages) != 2 {
		return
	}
	title, err := council.GenerateTitle(ctx, m.Query, stage3.Response)
	if err != nil {
		log.Printf("Meeting %s: %v", m.ID, err)
		return
	}
	if err := r.store.UpdateTitle(m.ConversationID, title); err != nil {
		log.Printf("Meeting %s: failed to save title: %v", m.ID, err)
	}
}

func (r *MeetingRegistry) fail(m *Meeting, msg string) {
	r.update(m, func(m *Meeting) {
		m.Status = StatusFailed
		m.Progress.Error = msg
	}, ErrorEvent{Error: msg})
}

// cancelled marks the meeting cancelled and drains the in-flight stage
// channel in the background so its workers can finish sending.
func (r *MeetingRegistry) cancelled(m *Meeting, drain func()) {
	if drain != nil {
		go drain()
	}
	r.update(m, func(m *Meeting) {
		m.Status = StatusCancelled
		m.Progress.Error = "meeting cancelled"
	}, ErrorEvent{Error: "meeting cancelled"})
	log.Printf("Meeting %s cancelled", m.ID)
}

// Subscribe registers a new event queue on the meeting and delivers a
// snapshot of the current state as its first event.
func (r *MeetingRegistry) Subscribe(id string) (<-chan Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[id]
	if !ok {
		return nil, false
	}
	ch := make(chan Event, subscriberBuffer)
	ch <- SnapshotEvent{Meeting: r.view(m)}
	m.subscribers = append(m.subscribers, ch)
	return ch, true
}

// Unsubscribe removes a queue. The channel is never closed; the subscriber
// simply stops receiving.
func (r *MeetingRegistry) Unsubscribe(id string, ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[id]
	if !ok {
		return
	}
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// Get returns a snapshot of one meeting.
func (r *MeetingRegistry) Get(id string) (MeetingView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[id]
	if !ok {
		return MeetingView{}, false
	}
	return r.view(m), true
}

// List returns snapshots of every known meeting, newest first.
func (r *MeetingRegistry) List() []MeetingView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]MeetingView, 0, len(r.meetings))
	for _, m := range r.meetings {
		views = append(views, r.view(m))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt > views[j].CreatedAt
	})
	return views
}

// Cancel requests cancellation of a running meeting. Cancelling a terminal
// meeting is a no-op that still reports success.
func (r *MeetingRegistry) Cancel(id string) bool {
	r.mu.Lock()
	m, ok := r.meetings[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	m.cancel()
	return true
}

// Cleanup removes terminal meetings whose last update is older than maxAge.
// Returns how many were removed.
func (r *MeetingRegistry) Cleanup(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, m := range r.meetings {
		if !m.Status.Terminal() {
			continue
		}
		updated, err := time.Parse(time.RFC3339Nano, m.UpdatedAt)
		if err != nil || updated.Before(cutoff) {
			delete(r.meetings, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("Cleaned up %d finished meetings", removed)
	}
	return removed
}
