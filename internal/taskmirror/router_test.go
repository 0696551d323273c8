package taskmirror

import (
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChatSink struct {
	envelopes []Envelope
}

func (s *recordingChatSink) HandleChat(env Envelope) {
	s.envelopes = append(s.envelopes, env)
}

func newTestRouter(t *testing.T, store *Store, notifier *Notifier, chat ChatSink, onQuestions func()) *Router {
	t.Helper()
	return NewRouter(RouterOptions{
		Store:       store,
		Notifier:    notifier,
		Chat:        chat,
		OnQuestions: onQuestions,
	})
}

func envelope(t *testing.T, envType string, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: envType, Data: data}
}

func TestDispatchInitReplacesEverything(t *testing.T) {
	store := NewStore()
	store.Apply(SourcePush, ReplaceTaskList{Tasks: []Task{{ID: "gone", Status: StatusPending}}})
	router := newTestRouter(t, store, nil, nil, nil)

	router.Dispatch(envelope(t, EnvelopeInit, InitPayload{
		Tasks:    []Task{{ID: "t1", Title: "fresh", Status: StatusPending}},
		Stats:    Stats{Total: 1, Pending: 1},
		Services: []ServiceStatus{{ID: "svc", Name: "db", Status: "running"}},
	}))

	state := store.Snapshot()
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, "t1", state.Tasks[0].ID, "init snapshot prunes tasks the authority dropped")
	assert.Equal(t, 1, state.Stats.Total)
	require.Len(t, state.Services, 1)
}

func TestDispatchTasksUpdatedFiresOneAlertPerTransition(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier(nil, nil)
	router := newTestRouter(t, store, notifier, nil, nil)

	router.Dispatch(envelope(t, EnvelopeTasksUpdated, []Task{{ID: "t1", Title: "job", Status: StatusInProgress}}))
	assert.Empty(t, notifier.Alerts())

	router.Dispatch(envelope(t, EnvelopeTasksUpdated, []Task{{ID: "t1", Title: "job", Status: StatusCompleted}}))
	alerts := notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSuccess, alerts[0].Kind)
	assert.Equal(t, "t1", alerts[0].TaskID)

	// Redundant delivery of the terminal status must not re-alert.
	router.Dispatch(envelope(t, EnvelopeTasksUpdated, []Task{{ID: "t1", Title: "job", Status: StatusCompleted}}))
	assert.Len(t, notifier.Alerts(), 1)
}

func TestDispatchActivityOutsideSelectionIsDropped(t *testing.T) {
	store := NewStore()
	store.Apply(SourcePush, ReplaceTaskList{Tasks: []Task{{ID: "t1", Status: StatusInProgress}, {ID: "t2", Status: StatusPending}}})
	store.Apply(SourceUI, Select{ID: "t1"})
	router := newTestRouter(t, store, nil, nil, nil)
	seq := store.Snapshot().Seq

	router.Dispatch(envelope(t, EnvelopeActivity, []Activity{{ID: 1, TaskID: "t2", Message: "elsewhere"}}))

	state := store.Snapshot()
	assert.Empty(t, state.Activity)
	assert.Equal(t, seq, state.Seq, "irrelevant batches must not mutate the store at all")
}

func TestDispatchActivityMixedBatchKeepsRelevantSlice(t *testing.T) {
	store := NewStore()
	store.Apply(SourcePush, ReplaceTaskList{Tasks: []Task{
		{ID: "t1", Status: StatusInProgress, Children: []Task{{ID: "c1", ParentID: strPtr("t1")}}},
		{ID: "t2", Status: StatusPending},
	}})
	store.Apply(SourceUI, Select{ID: "t1"})
	router := newTestRouter(t, store, nil, nil, nil)

	router.Dispatch(envelope(t, EnvelopeActivity, []Activity{
		{ID: 1, TaskID: "t1", Message: "root"},
		{ID: 2, TaskID: "c1", Message: "child"},
		{ID: 3, TaskID: "t2", Message: "sibling"},
	}))

	state := store.Snapshot()
	require.Len(t, state.Activity, 2)
	for _, entry := range state.Activity {
		assert.NotEqual(t, "t2", entry.TaskID)
	}
}

func TestDispatchQuestionsAlertsWholeBatchMergesRelevant(t *testing.T) {
	store := NewStore()
	store.Apply(SourcePush, ReplaceTaskList{Tasks: []Task{{ID: "t1", Status: StatusInProgress}, {ID: "t2", Status: StatusInProgress}}})
	store.Apply(SourceUI, Select{ID: "t1"})
	notifier := NewNotifier(nil, nil)
	var refreshes atomic.Int32
	router := newTestRouter(t, store, notifier, nil, func() { refreshes.Add(1) })

	router.Dispatch(envelope(t, EnvelopeQuestions, []Question{
		{ID: "q1", TaskID: "t2", Question: "offscreen"},
	}))

	state := store.Snapshot()
	assert.Empty(t, state.Questions, "questions outside the selection stay out of the substate")
	require.Len(t, notifier.Alerts(), 1)
	assert.Equal(t, AlertQuestion, notifier.Alerts()[0].Kind)
	assert.Equal(t, int32(1), refreshes.Load(), "a question batch always triggers the counter refresh")
}

func TestDispatchMalformedPayloadIsDropped(t *testing.T) {
	store := NewStore()
	router := newTestRouter(t, store, nil, nil, nil)
	seq := store.Snapshot().Seq

	// Task records without an id fail validation.
	router.Dispatch(Envelope{Type: EnvelopeTasksUpdated, Data: json.RawMessage(`[{"title":"no id"}]`)})
	router.Dispatch(Envelope{Type: EnvelopeTasksUpdated, Data: json.RawMessage(`{"not":"a list"}`)})
	router.Dispatch(Envelope{Type: EnvelopeActivity, Data: json.RawMessage(`[{"id":"string","task_id":"t1"}]`)})

	assert.Equal(t, seq, store.Snapshot().Seq)
}

func TestDispatchUnknownTypeIsIgnored(t *testing.T) {
	store := NewStore()
	router := newTestRouter(t, store, nil, nil, nil)
	seq := store.Snapshot().Seq

	router.Dispatch(Envelope{Type: "telemetry_v2", Data: json.RawMessage(`{"anything":true}`)})
	router.Dispatch(Envelope{Type: EnvelopePong, Data: json.RawMessage(`{}`)})

	assert.Equal(t, seq, store.Snapshot().Seq)
}

func TestDispatchChatForwardedUndecoded(t *testing.T) {
	store := NewStore()
	sink := &recordingChatSink{}
	router := newTestRouter(t, store, nil, sink, nil)

	raw := json.RawMessage(`{"message":"hello","malformed":`)
	router.Dispatch(Envelope{Type: "chat_message", Data: raw})

	require.Len(t, sink.envelopes, 1)
	assert.Equal(t, "chat_message", sink.envelopes[0].Type)
	assert.Equal(t, raw, sink.envelopes[0].Data, "chat payloads pass through without validation")
}

func TestDispatchProcessesAndServices(t *testing.T) {
	store := NewStore()
	router := newTestRouter(t, store, nil, nil, nil)

	router.Dispatch(envelope(t, EnvelopeProcesses, map[string]ProcessStatus{
		"t1": {Status: "running", PID: 4242},
	}))
	router.Dispatch(envelope(t, EnvelopeServices, []ServiceStatus{{ID: "svc", Name: "api", Status: "running"}}))
	router.Dispatch(envelope(t, EnvelopeStats, Stats{Total: 3, Completed: 1}))

	state := store.Snapshot()
	require.Contains(t, state.Processes, "t1")
	assert.Equal(t, 4242, state.Processes["t1"].PID)
	require.Len(t, state.Services, 1)
	assert.Equal(t, 3, state.Stats.Total)
}
