package tasksync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

// Engine is the mediator that owns the store, the push connection, the
// reconciliation poller and the notifier, and sequences their interactions.
// Collaborators never reach around it to touch each other; everything flows
// through the engine's methods and the store's Apply contract.
type Engine struct {
	store    *taskmirror.Store
	notifier *taskmirror.Notifier
	router   *taskmirror.Router
	client   Client
	conn     *Conn
	poller   *Poller
	logger   *zap.Logger

	fetchTimeout time.Duration
}

type EngineOptions struct {
	// BaseURL is the authority's HTTP endpoint; the push channel URL is
	// derived from it unless PushURL overrides it.
	BaseURL string
	PushURL string
	Tokens  TokenSource

	// Client overrides the derived HTTP client, used by tests.
	Client Client

	StateBackend taskmirror.StateBackend
	Chat         taskmirror.ChatSink
	Logger       *zap.Logger

	PollInterval time.Duration
	FetchTimeout time.Duration
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}

	client := opts.Client
	if client == nil {
		if strings.TrimSpace(opts.BaseURL) == "" {
			return nil, fmt.Errorf("base url is required")
		}
		client = NewHTTPClient(HTTPClientOptions{
			BaseURL: opts.BaseURL,
			Tokens:  opts.Tokens,
		})
	}

	e := &Engine{
		client:       client,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}

	e.store = taskmirror.NewStoreWithOptions(taskmirror.StoreOptions{
		StateBackend: opts.StateBackend,
		Logger:       logger.Named("store"),
	})
	e.notifier = taskmirror.NewNotifier(func(taskID string) {
		e.Select(context.Background(), taskID)
	}, logger.Named("notify"))
	e.router = taskmirror.NewRouter(taskmirror.RouterOptions{
		Store:    e.store,
		Notifier: e.notifier,
		Chat:     opts.Chat,
		Logger:   logger.Named("router"),
		OnQuestions: func() {
			go e.refreshAfterQuestions()
		},
	})
	e.poller = NewPoller(PollerOptions{
		Client:   client,
		Store:    e.store,
		Interval: opts.PollInterval,
		Logger:   logger.Named("poll"),
	})
	e.conn = NewConn(ConnOptions{
		URL:       pushURL(opts.BaseURL, opts.PushURL),
		Tokens:    opts.Tokens,
		Store:     e.store,
		Router:    e.router,
		OnConnect: e.resync,
		Logger:    logger.Named("conn"),
	})
	return e, nil
}

// Run drives the push channel until ctx is canceled, then stops the poller.
func (e *Engine) Run(ctx context.Context) error {
	defer e.poller.Stop()
	return e.conn.Run(ctx)
}

// Select changes the selected task. The store transition clears the previous
// selection's substate and bumps the generation synchronously; the poller is
// restarted and an immediate fetch fills the new scope. An empty ID clears
// the selection and stops polling.
func (e *Engine) Select(ctx context.Context, taskID string) {
	if e.store.SelectedID() == taskID {
		return
	}
	e.store.Apply(taskmirror.SourceUI, taskmirror.Select{ID: taskID})
	if taskID == "" {
		e.poller.Stop()
		return
	}
	generation := e.store.Generation()
	e.poller.Start(ctx, taskID, generation)
	go e.fetchSelection(taskID, generation)
}

// fetchSelection fills the selection-scoped substate right after a selection
// change, ahead of the first poll tick. Results carry the generation the
// selection was made under.
func (e *Engine) fetchSelection(taskID string, generation uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout)
	defer cancel()

	if task, err := e.client.GetTask(ctx, taskID); err != nil {
		e.logger.Warn("selection task fetch failed", zap.String("task", taskID), zap.Error(err))
	} else {
		e.store.Apply(taskmirror.SourceFetch, taskmirror.MergeTaskDetail{Task: task, Generation: generation})
	}
	if entries, err := e.client.GetActivity(ctx, taskID); err != nil {
		e.logger.Warn("selection activity fetch failed", zap.String("task", taskID), zap.Error(err))
	} else {
		e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceActivityLog{Entries: entries, Generation: generation})
	}
	if questions, err := e.client.GetQuestions(ctx, taskID); err != nil {
		e.logger.Warn("selection questions fetch failed", zap.String("task", taskID), zap.Error(err))
	} else {
		e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceQuestionList{Questions: questions, Generation: generation})
	}
	if artifacts, err := e.client.GetArtifacts(ctx, taskID); err != nil {
		e.logger.Warn("selection artifacts fetch failed", zap.String("task", taskID), zap.Error(err))
	} else {
		e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceArtifactList{Artifacts: artifacts, Generation: generation})
	}
}

// RefreshTasks replaces the whole root task list from the authority.
func (e *Engine) RefreshTasks(ctx context.Context) error {
	tasks, err := e.client.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("refresh tasks: %w", err)
	}
	e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceTaskList{Tasks: tasks})
	return nil
}

// RefreshStats replaces the aggregate counters from the authority.
func (e *Engine) RefreshStats(ctx context.Context) error {
	stats, err := e.client.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("refresh stats: %w", err)
	}
	e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceStats{Stats: stats})
	return nil
}

// RefreshAgents replaces the agent listing from the authority.
func (e *Engine) RefreshAgents(ctx context.Context) error {
	agents, err := e.client.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("refresh agents: %w", err)
	}
	e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceAgentList{Agents: agents})
	return nil
}

// AnswerQuestion submits an answer upstream and refreshes the selection's
// question list so the answered entry is reflected without waiting for a
// push or the next poll tick.
func (e *Engine) AnswerQuestion(ctx context.Context, taskID, questionID, answer string) error {
	if err := e.client.AnswerQuestion(ctx, taskID, questionID, answer); err != nil {
		return err
	}
	generation := e.store.Generation()
	if e.store.SelectedID() == taskID {
		if questions, err := e.client.GetQuestions(ctx, taskID); err != nil {
			e.logger.Warn("question refresh failed", zap.String("task", taskID), zap.Error(err))
		} else {
			e.store.Apply(taskmirror.SourceFetch, taskmirror.ReplaceQuestionList{Questions: questions, Generation: generation})
		}
	}
	return nil
}

// resync reconciles everything the push channel may have missed. It runs on
// every (re)connect, after the server's init snapshot has been dispatched.
func (e *Engine) resync(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	if err := e.RefreshTasks(fetchCtx); err != nil {
		e.logger.Warn("resync tasks failed", zap.Error(err))
	}
	if err := e.RefreshStats(fetchCtx); err != nil {
		e.logger.Warn("resync stats failed", zap.Error(err))
	}
	if err := e.RefreshAgents(fetchCtx); err != nil {
		e.logger.Warn("resync agents failed", zap.Error(err))
	}
	if taskID := e.store.SelectedID(); taskID != "" {
		e.fetchSelection(taskID, e.store.Generation())
	}
}

// refreshAfterQuestions reconciles the counters a question batch moves. A
// question arriving or being answered changes pending totals and can flip a
// task into or out of blocked.
func (e *Engine) refreshAfterQuestions() {
	ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout)
	defer cancel()
	if err := e.RefreshStats(ctx); err != nil {
		e.logger.Warn("question-triggered stats refresh failed", zap.Error(err))
	}
	if err := e.RefreshTasks(ctx); err != nil {
		e.logger.Warn("question-triggered task refresh failed", zap.Error(err))
	}
}

// Snapshot exposes the current mirrored state, read-only.
func (e *Engine) Snapshot() taskmirror.State { return e.store.Snapshot() }

// Alerts exposes the pending notification queue.
func (e *Engine) Alerts() []taskmirror.Alert { return e.notifier.Alerts() }

// DismissAlert drops a pending alert.
func (e *Engine) DismissAlert(id string) bool { return e.notifier.Dismiss(id) }

// ActivateAlert selects the task behind an alert.
func (e *Engine) ActivateAlert(id string) bool { return e.notifier.Activate(id) }

// Dispatch feeds one envelope through the router. Exposed for embedders that
// bridge their own transport instead of the built-in connection.
func (e *Engine) Dispatch(env taskmirror.Envelope) { e.router.Dispatch(env) }

func pushURL(baseURL, override string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
