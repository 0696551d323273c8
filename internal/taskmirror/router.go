package taskmirror

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Recognized push-channel envelope types.
const (
	EnvelopeInit         = "init"
	EnvelopeTasksUpdated = "tasks_updated"
	EnvelopeStats        = "stats"
	EnvelopeActivity     = "activity"
	EnvelopeQuestions    = "questions"
	EnvelopeProcesses    = "processes"
	EnvelopeServices     = "services"
	EnvelopePong         = "pong"

	chatEnvelopePrefix = "chat_"
)

// ChatSink receives chat-prefixed envelopes undecoded. The router never
// interprets them; the engine injects the collaborator that does.
type ChatSink interface {
	HandleChat(env Envelope)
}

// Router demultiplexes inbound envelopes to exactly one handler per type.
// Unknown types are ignored. Recognized types with payloads that fail
// schema validation are logged and dropped without a store mutation.
type Router struct {
	store    *Store
	notifier *Notifier
	schemas  *SchemaSet
	chat     ChatSink
	logger   *zap.Logger

	// onQuestions forces the stats+task refresh a questions batch implies;
	// the refresh runs on the caller injected by the engine, never inline.
	onQuestions func()
}

type RouterOptions struct {
	Store       *Store
	Notifier    *Notifier
	Schemas     *SchemaSet
	Chat        ChatSink
	Logger      *zap.Logger
	OnQuestions func()
}

func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schemas := opts.Schemas
	if schemas == nil {
		schemas = NewSchemaSet()
	}
	return &Router{
		store:       opts.Store,
		notifier:    opts.Notifier,
		schemas:     schemas,
		chat:        opts.Chat,
		logger:      logger,
		onQuestions: opts.OnQuestions,
	}
}

// Dispatch routes one envelope. All mutation goes through the store's Apply
// contract; the only other side effects are notifier pushes and the injected
// questions refresh.
func (r *Router) Dispatch(env Envelope) {
	if strings.HasPrefix(env.Type, chatEnvelopePrefix) {
		if r.chat != nil {
			r.chat.HandleChat(env)
		}
		return
	}

	if err := r.schemas.Validate(env.Type, env.Data); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", env.Type), zap.Error(err))
		return
	}

	switch env.Type {
	case EnvelopeInit:
		r.handleInit(env.Data)
	case EnvelopeTasksUpdated:
		r.handleTasksUpdated(env.Data)
	case EnvelopeStats:
		r.handleStats(env.Data)
	case EnvelopeActivity:
		r.handleActivity(env.Data)
	case EnvelopeQuestions:
		r.handleQuestions(env.Data)
	case EnvelopeProcesses:
		r.handleProcesses(env.Data)
	case EnvelopeServices:
		r.handleServices(env.Data)
	case EnvelopePong:
		// Keepalive echo.
	default:
		r.logger.Debug("ignoring unknown envelope type", zap.String("type", env.Type))
	}
}

func (r *Router) handleInit(data json.RawMessage) {
	var payload InitPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeInit), zap.Error(err))
		return
	}
	r.store.Apply(SourcePush, ReplaceAll{
		Tasks:    payload.Tasks,
		Stats:    payload.Stats,
		Services: payload.Services,
	})
}

func (r *Router) handleTasksUpdated(data json.RawMessage) {
	var incoming []Task
	if err := json.Unmarshal(data, &incoming); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeTasksUpdated), zap.Error(err))
		return
	}
	prev := statusIndex(r.store.Snapshot().Tasks)
	r.store.Apply(SourcePush, MergeTaskList{Tasks: incoming})
	if r.notifier != nil {
		r.notifier.TaskTransitions(prev, incoming)
	}
}

func (r *Router) handleStats(data json.RawMessage) {
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeStats), zap.Error(err))
		return
	}
	r.store.Apply(SourcePush, ReplaceStats{Stats: stats})
}

func (r *Router) handleActivity(data json.RawMessage) {
	var batch []Activity
	if err := json.Unmarshal(data, &batch); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeActivity), zap.Error(err))
		return
	}
	snapshot := r.store.Snapshot()
	relevant := filterActivity(batch, RelevantIDs(snapshot.Tasks, snapshot.SelectedID))
	if len(relevant) == 0 {
		r.logger.Debug("activity batch outside selection scope", zap.Int("entries", len(batch)))
		return
	}
	r.store.Apply(SourcePush, AppendActivityBatch{Entries: relevant})
}

func (r *Router) handleQuestions(data json.RawMessage) {
	var batch []Question
	if err := json.Unmarshal(data, &batch); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeQuestions), zap.Error(err))
		return
	}
	// Alerts consider the whole batch; the selection-scoped substate only
	// takes the relevant slice.
	if r.notifier != nil {
		r.notifier.QuestionBatch(batch)
	}
	snapshot := r.store.Snapshot()
	relevant := filterQuestions(batch, RelevantIDs(snapshot.Tasks, snapshot.SelectedID))
	if len(relevant) > 0 {
		r.store.Apply(SourcePush, MergeQuestionBatch{Questions: relevant})
	}
	// A question batch moves pending counters and may have blocked a task.
	if r.onQuestions != nil {
		r.onQuestions()
	}
}

func (r *Router) handleProcesses(data json.RawMessage) {
	var processes map[string]ProcessStatus
	if err := json.Unmarshal(data, &processes); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeProcesses), zap.Error(err))
		return
	}
	r.store.Apply(SourcePush, ReplaceProcessMap{Processes: processes})
}

func (r *Router) handleServices(data json.RawMessage) {
	var services []ServiceStatus
	if err := json.Unmarshal(data, &services); err != nil {
		r.logger.Warn("dropping malformed payload", zap.String("type", EnvelopeServices), zap.Error(err))
		return
	}
	r.store.Apply(SourcePush, ReplaceServiceList{Services: services})
}

func statusIndex(tasks []Task) map[string]string {
	index := make(map[string]string, len(tasks))
	for _, task := range tasks {
		index[task.ID] = task.Status
		for _, child := range task.Children {
			index[child.ID] = child.Status
		}
	}
	return index
}

func filterActivity(batch []Activity, relevant map[string]struct{}) []Activity {
	if len(relevant) == 0 {
		return nil
	}
	out := make([]Activity, 0, len(batch))
	for _, entry := range batch {
		if _, ok := relevant[entry.TaskID]; ok {
			out = append(out, entry)
		}
	}
	return out
}

func filterQuestions(batch []Question, relevant map[string]struct{}) []Question {
	if len(relevant) == 0 {
		return nil
	}
	out := make([]Question, 0, len(batch))
	for _, q := range batch {
		if _, ok := relevant[q.TaskID]; ok {
			out = append(out, q)
		}
	}
	return out
}
