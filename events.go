package main

// Event is one item of a meeting's progress stream. The concrete types below
// form the closed set of broadcastable payloads; handlers switch on the
// concrete type, the SSE layer wraps each one in a {"type","data"} envelope
// keyed by Kind.
type Event interface {
	Kind() string
}

// SnapshotEvent is the first event every subscriber receives: the full state
// of the meeting at subscription time.
type SnapshotEvent struct {
	Meeting MeetingView `json:"meeting"`
}

func (SnapshotEvent) Kind() string { return "progress" }

// StageStartEvent marks the beginning of one pipeline stage (1-4).
type StageStartEvent struct {
	Stage   int    `json:"stage"`
	Message string `json:"message,omitempty"`
}

func (e StageStartEvent) Kind() string {
	switch e.Stage {
	case 1:
		return "stage1_start"
	case 2:
		return "stage2_start"
	case 3:
		return "stage3_start"
	default:
		return "stage4_start"
	}
}

// Stage1ProgressEvent carries either a terminal model outcome or an interim
// retry notice; exactly one field is set.
type Stage1ProgressEvent struct {
	Result *Stage1Result `json:"result,omitempty"`
	Retry  *RetryNotice  `json:"retry,omitempty"`
}

func (Stage1ProgressEvent) Kind() string { return "stage1_progress" }

// Stage1CompleteEvent carries all stage-1 outcomes once the fan-out drains.
type Stage1CompleteEvent struct {
	Results []Stage1Result `json:"results"`
}

func (Stage1CompleteEvent) Kind() string { return "stage1_complete" }

// LabelMappingEvent publishes the label bijection before any score event.
type LabelMappingEvent struct {
	Labels LabelMapping `json:"labels"`
}

func (LabelMappingEvent) Kind() string { return "stage2_label_mapping" }

// Stage2ProgressEvent carries one reviewer outcome in completion order.
type Stage2ProgressEvent struct {
	Result *Stage2Result `json:"result"`
}

func (Stage2ProgressEvent) Kind() string { return "stage2_progress" }

// Stage2CompleteEvent carries all reviewer outcomes.
type Stage2CompleteEvent struct {
	Results []Stage2Result `json:"results"`
}

func (Stage2CompleteEvent) Kind() string { return "stage2_complete" }

// Stage3CompleteEvent carries the chairman synthesis (error included).
type Stage3CompleteEvent struct {
	Result Stage3Result `json:"result"`
}

func (Stage3CompleteEvent) Kind() string { return "stage3_complete" }

// Stage4CompleteEvent carries the final ranking.
type Stage4CompleteEvent struct {
	Result Stage4Result `json:"result"`
}

func (Stage4CompleteEvent) Kind() string { return "stage4_complete" }

// CompleteEvent terminates a successful stream.
type CompleteEvent struct {
	Message string `json:"message,omitempty"`
}

func (CompleteEvent) Kind() string { return "complete" }

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) Kind() string { return "error" }

// HeartbeatEvent keeps idle SSE connections alive; it is produced by the
// stream writer, never broadcast through subscriber queues.
type HeartbeatEvent struct{}

func (HeartbeatEvent) Kind() string { return "heartbeat" }
