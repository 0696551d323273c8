package tasksync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

const defaultPollInterval = 3 * time.Second

// Poller reconciles the selected task against the authority on a fixed
// interval, healing anything the push channel dropped. At most one poll
// loop runs; starting a new selection cancels the previous loop. Every
// result is tagged with the generation the loop was started under, so a
// tick that straddles a selection change lands as a store no-op.
type Poller struct {
	client   Client
	store    *taskmirror.Store
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type PollerOptions struct {
	Client   Client
	Store    *taskmirror.Store
	Interval time.Duration
	Logger   *zap.Logger
}

func NewPoller(opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:   opts.Client,
		store:    opts.Store,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling taskID under the given selection generation. Any
// previous loop is stopped first and waited out, so two loops never overlap.
func (p *Poller) Start(ctx context.Context, taskID string, generation uint64) {
	p.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.loop(loopCtx, taskID, generation)
	}()
}

// Stop cancels the active loop, if any, and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, taskID string, generation uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, taskID, generation)
		}
	}
}

// pollOnce fetches the selection-scoped substate and applies it with replace
// semantics. Each fetch fails independently; errors are logged and the tick
// moves on, leaving the last good view in place.
func (p *Poller) pollOnce(ctx context.Context, taskID string, generation uint64) {
	if task, err := p.client.GetTask(ctx, taskID); err != nil {
		p.logger.Debug("poll task detail failed", zap.String("task", taskID), zap.Error(err))
	} else {
		p.store.Apply(taskmirror.SourcePoll, taskmirror.MergeTaskDetail{Task: task, Generation: generation})
	}

	if entries, err := p.client.GetActivity(ctx, taskID); err != nil {
		p.logger.Debug("poll activity failed", zap.String("task", taskID), zap.Error(err))
	} else {
		p.store.Apply(taskmirror.SourcePoll, taskmirror.ReplaceActivityLog{Entries: entries, Generation: generation})
	}

	if questions, err := p.client.GetQuestions(ctx, taskID); err != nil {
		p.logger.Debug("poll questions failed", zap.String("task", taskID), zap.Error(err))
	} else {
		p.store.Apply(taskmirror.SourcePoll, taskmirror.ReplaceQuestionList{Questions: questions, Generation: generation})
	}

	if artifacts, err := p.client.GetArtifacts(ctx, taskID); err != nil {
		p.logger.Debug("poll artifacts failed", zap.String("task", taskID), zap.Error(err))
	} else {
		p.store.Apply(taskmirror.SourcePoll, taskmirror.ReplaceArtifactList{Artifacts: artifacts, Generation: generation})
	}
}
