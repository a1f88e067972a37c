package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Config holds stream tuning.
type Config struct {
	// PollInterval is how often persisted run state is re-read.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// HeartbeatInterval is how long a stream may stay silent before a
	// heartbeat event is emitted.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// Buffer is the subscriber channel capacity.
	Buffer int `yaml:"buffer" json:"buffer"`
}

// DefaultConfig returns sensible default stream configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		Buffer:            64,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HeartbeatInterval < c.PollInterval {
		return fmt.Errorf("heartbeat_interval must be at least poll_interval")
	}
	if c.Buffer < 1 {
		return fmt.Errorf("buffer must be at least 1")
	}
	return nil
}

// Store is the read surface the stream polls. *storage.Store satisfies it.
type Store interface {
	GetWorkflow(ctx context.Context, id int64) (*storage.Workflow, error)
	ListStageRuns(ctx context.Context, workflowID int64) ([]storage.WorkflowStageRun, error)
	ListRunEventsAfter(ctx context.Context, workflowID, afterID int64) ([]storage.WorkflowRunEvent, error)
}

// Streamer derives per-workflow event streams from persisted run state.
type Streamer struct {
	config    Config
	store     Store
	publisher *Publisher
	logger    *slog.Logger
}

// NewStreamer builds a streamer over the given store. publisher may be nil;
// events are then only delivered to in-process subscribers.
func NewStreamer(config Config, store Store, publisher *Publisher, logger *slog.Logger) (*Streamer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid events config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("events streamer requires a store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		config:    config,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Watch streams workflowID's events until the workflow reaches a terminal
// status or ctx is cancelled. The returned channel replays the backlog
// first, then follows live state, and is closed after the terminal event.
func (s *Streamer) Watch(ctx context.Context, workflowID int64) (<-chan Event, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("load workflow %d: %w", workflowID, err)
	}

	ch := make(chan Event, s.config.Buffer)
	go s.follow(ctx, workflowID, ch)
	return ch, nil
}

// cursor tracks what one subscriber has already been served.
type cursor struct {
	seenRuns   map[stageKey]struct{}
	seenEvents map[int64]struct{}
	lastEmit   time.Time
}

// stageKey identifies one stage run transition. A run row re-entering a
// status it already held (retry after failure) is a new transition only
// because the status changed in between, which the poll observes as a
// different key sequence.
type stageKey struct {
	runID  int64
	status storage.StageStatus
}

func (s *Streamer) follow(ctx context.Context, workflowID int64, ch chan<- Event) {
	defer close(ch)

	cur := &cursor{
		seenRuns:   make(map[stageKey]struct{}),
		seenEvents: make(map[int64]struct{}),
		lastEmit:   time.Now(),
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		done, err := s.poll(ctx, workflowID, cur, ch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("event poll failed",
				"workflow_id", workflowID,
				"error", err)
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll reads the run state once, emits whatever is new, and reports whether
// the stream is finished.
func (s *Streamer) poll(ctx context.Context, workflowID int64, cur *cursor, ch chan<- Event) (bool, error) {
	emitted := 0

	// The run event log is re-read from the start every poll: row ids are
	// assigned before commit, so a low id can become visible after a higher
	// one was already served. The seen set keeps the replay idempotent.
	logged, err := s.store.ListRunEventsAfter(ctx, workflowID, 0)
	if err != nil {
		return false, fmt.Errorf("list run events: %w", err)
	}
	for _, re := range logged {
		if _, ok := cur.seenEvents[re.ID]; ok {
			continue
		}
		cur.seenEvents[re.ID] = struct{}{}
		if !s.send(ctx, ch, loggedEvent(re)) {
			return true, nil
		}
		emitted++
	}

	runs, err := s.store.ListStageRuns(ctx, workflowID)
	if err != nil {
		return false, fmt.Errorf("list stage runs: %w", err)
	}
	for _, run := range runs {
		ev, ok := stageEvent(run)
		if !ok {
			continue
		}
		key := stageKey{runID: run.ID, status: run.Status}
		if _, seen := cur.seenRuns[key]; seen {
			continue
		}
		cur.seenRuns[key] = struct{}{}
		if !s.send(ctx, ch, ev) {
			return true, nil
		}
		emitted++
	}

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false, fmt.Errorf("get workflow: %w", err)
	}
	if terminalStatus(wf.Status) {
		s.send(ctx, ch, workflowEvent(wf))
		return true, nil
	}

	if emitted == 0 && time.Since(cur.lastEmit) >= s.config.HeartbeatInterval {
		if !s.send(ctx, ch, Event{
			Type:       workflow.EventHeartbeat,
			WorkflowID: workflowID,
			Status:     string(wf.Status),
			Timestamp:  time.Now().UTC(),
		}) {
			return true, nil
		}
		emitted++
	}
	if emitted > 0 {
		cur.lastEmit = time.Now()
	}
	return false, nil
}

// send delivers one event to the subscriber and mirrors it to NATS when a
// publisher is configured. It reports false when ctx ended before delivery.
// Publish failures are logged, never fatal: the local stream stays usable
// when the broker is down.
func (s *Streamer) send(ctx context.Context, ch chan<- Event, e Event) bool {
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Warn("event publish failed",
				"workflow_id", e.WorkflowID,
				"type", e.Type,
				"error", err)
		}
	}
	select {
	case ch <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
