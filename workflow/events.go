package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// RunEventType defines the type of run event.
type RunEventType string

const (
	// RunEventNodeStart is emitted before a node's processor is invoked.
	RunEventNodeStart RunEventType = "node_start"
	// RunEventNodeComplete is emitted after a node succeeds.
	RunEventNodeComplete RunEventType = "node_complete"
	// RunEventNodeError is emitted when a node fails or is blocked upstream.
	RunEventNodeError RunEventType = "node_error"
	// RunEventNodeCancelled is emitted for nodes that never started.
	RunEventNodeCancelled RunEventType = "node_cancelled"
	// RunEventRunComplete is the last event of every run.
	RunEventRunComplete RunEventType = "run_complete"
)

// RunEvent carries one state change of a run.
type RunEvent struct {
	Type       RunEventType    `json:"type"`
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	NodeID     string          `json:"node_id,omitempty"`
	NodeType   NodeType        `json:"node_type,omitempty"`
	Status     string          `json:"status"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// eventHub fans run events out to subscribers and keeps the run's event
// log so late subscribers replay everything from the first event.
// A subscriber that falls behind live events drops them. Drops are counted
// per subscriber and logged; the final run_complete event is always
// delivered before the channel closes.
type eventHub struct {
	mu      sync.Mutex
	log     []RunEvent
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	dropped int
	logger  *zap.Logger
}

type subscriber struct {
	ch      chan RunEvent
	dropped int
}

func newEventHub(logger *zap.Logger) *eventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventHub{subs: make(map[int]*subscriber), logger: logger}
}

// subscribe returns a channel primed with the event log so far, and a
// function to stop receiving.
func (h *eventHub) subscribe(buffer int) (<-chan RunEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan RunEvent, len(h.log)+buffer)
	for _, ev := range h.log {
		ch <- ev
	}
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = &subscriber{ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (h *eventHub) publish(ev RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.log = append(h.log, ev)
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.dropped++
			// warn once per subscriber; the total is reported on close
			if sub.dropped == 1 {
				h.logger.Warn("run event subscriber is falling behind, dropping events",
					zap.Int("subscriber", id),
					zap.String("event_type", string(ev.Type)),
					zap.Int("buffer", cap(sub.ch)),
				)
			}
		}
	}
}

// droppedEvents returns how many live events subscribers have missed.
func (h *eventHub) droppedEvents() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// close publishes the final event and closes every subscriber.
func (h *eventHub) close(final RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.log = append(h.log, final)
	for id, sub := range h.subs {
		select {
		case sub.ch <- final:
		default:
			// make room for the terminal event
			select {
			case <-sub.ch:
				sub.dropped++
				h.dropped++
			default:
			}
			sub.ch <- final
		}
		if sub.dropped > 0 {
			h.logger.Warn("run event subscriber missed events",
				zap.Int("subscriber", id),
				zap.Int("dropped", sub.dropped),
			)
		}
		close(sub.ch)
		delete(h.subs, id)
	}
}
