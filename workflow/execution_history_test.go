package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecutionHistory_RecordLifecycle(t *testing.T) {
	t.Parallel()
	h := NewExecutionHistory("run-1", "wf-1")
	assert.Equal(t, RunStatusRunning, h.GetStatus())

	a := h.RecordNodeStart("A", NodeTypeTextInput, nil)
	h.RecordNodeEnd(a, "hi", nil)
	b := h.RecordNodeStart("B", NodeTypePromptCrafter, TargetsData{"name": "hi"})
	h.RecordNodeEnd(b, nil, errors.New("tag missing"))
	h.RecordNodeSkipped("C", NodeTypeGenerateText, NodeStatusError, errors.New("upstream node \"B\" failed"))
	h.Complete(RunStatusFailed, errors.New("one or more nodes failed"))

	nodes := h.GetNodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, NodeStatusSuccess, nodes[0].Status)
	assert.Equal(t, "hi", nodes[0].Output)
	assert.Equal(t, NodeStatusError, nodes[1].Status)
	assert.Equal(t, "tag missing", nodes[1].Error)
	assert.Equal(t, TargetsData{"name": "hi"}, nodes[1].Input)
	assert.Equal(t, NodeStatusError, h.GetNodeByID("C").Status)
	assert.Nil(t, h.GetNodeByID("missing"))

	assert.Equal(t, RunStatusFailed, h.GetStatus())
	assert.Equal(t, "one or more nodes failed", h.Error)
	assert.False(t, h.EndTime.Before(h.StartTime))
}

func TestExecutionHistoryStore_QueriesAndEviction(t *testing.T) {
	t.Parallel()
	store := NewExecutionHistoryStore(2)

	h1 := NewExecutionHistory("r1", "wf-a")
	h1.Complete(RunStatusCompleted, nil)
	store.Save(h1)

	time.Sleep(time.Millisecond)
	h2 := NewExecutionHistory("r2", "wf-a")
	h2.Complete(RunStatusFailed, errors.New("x"))
	store.Save(h2)

	time.Sleep(time.Millisecond)
	h3 := NewExecutionHistory("r3", "wf-b")
	store.Save(h3)

	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("r1")
	assert.False(t, ok, "oldest history is evicted")

	byWorkflow := store.ListByWorkflow("wf-a")
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, "r2", byWorkflow[0].RunID)

	running := store.ListByStatus(RunStatusRunning)
	require.Len(t, running, 1)
	assert.Equal(t, "r3", running[0].RunID)

	all := store.ListByTimeRange(h2.StartTime, time.Now())
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].RunID)
	assert.Equal(t, "r3", all[1].RunID)

	// re-saving an existing run does not grow the store
	store.Save(h3)
	assert.Equal(t, 2, store.Len())
}

func TestEventHub_SubscribeAndClose(t *testing.T) {
	t.Parallel()
	hub := newEventHub(zap.NewNop())

	early, cancelEarly := hub.subscribe(4)
	hub.publish(RunEvent{Type: RunEventNodeStart, NodeID: "A"})

	dropped, cancelDropped := hub.subscribe(1)
	cancelDropped()
	cancelDropped()
	_, open := <-readAll(dropped)
	assert.False(t, open)

	hub.close(RunEvent{Type: RunEventRunComplete})
	hub.publish(RunEvent{Type: RunEventNodeStart, NodeID: "late"})
	cancelEarly()

	var got []RunEventType
	for ev := range early {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []RunEventType{RunEventNodeStart, RunEventRunComplete}, got)

	replay, _ := hub.subscribe(1)
	got = got[:0]
	for ev := range replay {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []RunEventType{RunEventNodeStart, RunEventRunComplete}, got)
}

// readAll drains ch and returns it once closed.
func readAll(ch <-chan RunEvent) <-chan RunEvent {
	for range ch {
	}
	return ch
}

func TestEventHub_FinalEventSurvivesFullBuffer(t *testing.T) {
	t.Parallel()
	hub := newEventHub(zap.NewNop())
	ch, _ := hub.subscribe(1)

	hub.publish(RunEvent{Type: RunEventNodeStart})
	hub.publish(RunEvent{Type: RunEventNodeComplete}) // dropped, buffer full
	hub.close(RunEvent{Type: RunEventRunComplete})

	var last RunEvent
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, RunEventRunComplete, last.Type)
}

func TestExecutionHistory_MarshalJSON(t *testing.T) {
	t.Parallel()
	h := NewExecutionHistory("run-1", "wf-1")
	a := h.RecordNodeStart("A", NodeTypeTextInput, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.RecordNodeEnd(a, "hi", nil)
		h.Complete(RunStatusCompleted, nil)
	}()
	_, err := json.Marshal(h)
	require.NoError(t, err)
	<-done

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "completed", decoded["status"])
	nodes, ok := decoded["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.Equal(t, "hi", nodes[0].(map[string]any)["output"])
}

func TestEventHub_CountsAndLogsDroppedEvents(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	hub := newEventHub(zap.New(core))
	slow, _ := hub.subscribe(1)
	fast, cancelFast := hub.subscribe(8)

	hub.publish(RunEvent{Type: RunEventNodeStart, NodeID: "A"})
	hub.publish(RunEvent{Type: RunEventNodeComplete, NodeID: "A"})
	hub.publish(RunEvent{Type: RunEventNodeStart, NodeID: "B"})
	assert.Equal(t, 2, hub.droppedEvents())
	require.Equal(t, 1, logs.FilterMessageSnippet("dropping events").Len(), "warned once per subscriber")

	cancelFast()
	var fastGot int
	for range fast {
		fastGot++
	}
	assert.Equal(t, 3, fastGot)

	hub.close(RunEvent{Type: RunEventRunComplete})
	var last RunEvent
	for ev := range slow {
		last = ev
	}
	assert.Equal(t, RunEventRunComplete, last.Type)
	assert.Equal(t, 3, hub.droppedEvents(), "the buffered event evicted for run_complete counts too")

	missed := logs.FilterMessage("run event subscriber missed events").All()
	require.Len(t, missed, 1)
	assert.EqualValues(t, 3, missed[0].ContextMap()["dropped"])
}
