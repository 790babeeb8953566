package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a processing event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "job-complete"
	EventError    EventType = "job-error"
)

// IsTerminal reports whether the event type signals a final job state.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// EventData is the payload carried by a processing event.
type EventData struct {
	FileName    string         `json:"fileName,omitempty"`
	Status      string         `json:"status,omitempty"`
	CurrentStep int            `json:"currentStep,omitempty"`
	TotalSteps  int            `json:"totalSteps,omitempty"`
	Progress    int            `json:"progress,omitempty"` // 0-100
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	Stats       map[string]int `json:"stats,omitempty"`
}

// Event is one append-only entry of a job's progress log. Never mutated
// after being appended; Sequence is assigned by the bus.
type Event struct {
	JobID    string    `json:"jobId"`
	Type     EventType `json:"type"`
	Data     EventData `json:"data"`
	Sequence int       `json:"sequence"`
}

// Listener receives events for a subscribed job.
type Listener func(Event)

type subscriber struct {
	id uuid.UUID
	fn Listener
}

type jobLog struct {
	history     []Event
	subscribers []subscriber
	nextSeq     int
	terminal    bool
}

// Bus is an explicitly owned per-job event log with live fan-out and
// replay for late subscribers. A terminal event, once appended to history,
// is observable by every caller who queries history afterwards, regardless
// of live-delivery timing.
type Bus struct {
	logger     *slog.Logger
	maxHistory int
	retention  time.Duration

	mu   sync.Mutex
	jobs map[string]*jobLog
}

type Option func(*Bus)

// WithMaxHistory bounds the per-job history buffer.
func WithMaxHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// WithRetention sets the grace period before a terminated job's history
// is pruned.
func WithRetention(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.retention = d
		}
	}
}

func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:     logger,
		maxHistory: 100,
		retention:  10 * time.Minute,
		jobs:       make(map[string]*jobLog),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Emit appends the event to the job's history and synchronously notifies
// current listeners. The first emit for a job id creates its log. A second
// terminal event for the same job is dropped.
func (b *Bus) Emit(jobID string, evType EventType, data EventData) {
	b.mu.Lock()
	log, ok := b.jobs[jobID]
	if !ok {
		log = &jobLog{}
		b.jobs[jobID] = log
	}
	if log.terminal && evType.IsTerminal() {
		b.mu.Unlock()
		b.logger.Warn("events.duplicate_terminal_dropped", "job_id", jobID, "type", string(evType))
		return
	}

	ev := Event{JobID: jobID, Type: evType, Data: data, Sequence: log.nextSeq}
	log.nextSeq++
	log.history = append(log.history, ev)
	if len(log.history) > b.maxHistory {
		log.history = log.history[1:]
	}
	if evType.IsTerminal() {
		log.terminal = true
		time.AfterFunc(b.retention, func() { b.prune(jobID) })
	}
	targets := make([]subscriber, len(log.subscribers))
	copy(targets, log.subscribers)
	b.mu.Unlock()

	for _, s := range targets {
		s.fn(ev)
	}
}

// Subscribe registers a listener for a job, optionally replaying buffered
// history first. Replay and registration happen atomically with respect to
// Emit, so a subscriber sees every event exactly once and in order. The
// listener must not call back into the bus during replay. The returned
// handle unsubscribes; it is safe to call more than once.
func (b *Bus) Subscribe(jobID string, fn Listener, replayHistory bool) (unsubscribe func()) {
	b.mu.Lock()
	log, ok := b.jobs[jobID]
	if !ok {
		log = &jobLog{}
		b.jobs[jobID] = log
	}
	if replayHistory {
		for _, ev := range log.history {
			fn(ev)
		}
	}
	id := uuid.New()
	log.subscribers = append(log.subscribers, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() { b.removeSubscriber(jobID, id) }
}

func (b *Bus) removeSubscriber(jobID string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.jobs[jobID]
	if !ok {
		return
	}
	for i, s := range log.subscribers {
		if s.id == id {
			log.subscribers = append(log.subscribers[:i], log.subscribers[i+1:]...)
			break
		}
	}
}

// GetHistory returns a copy of the buffered events for a job.
func (b *Bus) GetHistory(jobID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]Event, len(log.history))
	copy(out, log.history)
	return out
}

// IsJobComplete reports whether a terminal event has been recorded.
func (b *Bus) IsJobComplete(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.jobs[jobID]
	return ok && log.terminal
}

func (b *Bus) prune(jobID string) {
	b.mu.Lock()
	delete(b.jobs, jobID)
	b.mu.Unlock()
	b.logger.Debug("events.history_pruned", "job_id", jobID)
}
