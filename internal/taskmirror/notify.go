package taskmirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertKind string

const (
	AlertSuccess  AlertKind = "success"
	AlertError    AlertKind = "error"
	AlertQuestion AlertKind = "question"
)

// Alert is a user-facing notification derived from a state transition. The
// DedupKey lets a presentation layer collapse repeat alerts for the same
// entity; Activate routes back into selection via the injected callback.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	TaskID    string    `json:"taskId"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	DedupKey  string    `json:"dedupKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// SelectFunc is invoked when an alert is activated; it receives the alert's
// owning task identifier.
type SelectFunc func(taskID string)

const maxPendingAlerts = 100

// Notifier derives alerts from before/after state diffs and keeps the
// pending queue until the presentation layer dismisses them.
type Notifier struct {
	mu       sync.Mutex
	alerts   []Alert
	selectFn SelectFunc
	logger   *zap.Logger
}

func NewNotifier(selectFn SelectFunc, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{selectFn: selectFn, logger: logger}
}

// TaskTransitions fires one alert per task that transitioned into a terminal
// status: success on completed, error on failed. prev maps task ID to the
// status held immediately before the delta was applied; a redundant delivery
// of an unchanged status produces nothing.
func (n *Notifier) TaskTransitions(prev map[string]string, incoming []Task) {
	for _, task := range incoming {
		before := prev[task.ID]
		if task.Status == before {
			continue
		}
		switch task.Status {
		case StatusCompleted:
			n.push(Alert{
				Kind:     AlertSuccess,
				TaskID:   task.ID,
				Title:    task.Title,
				Message:  fmt.Sprintf("Task completed: %s", task.Title),
				DedupKey: dedupKey(task.ID),
			})
		case StatusFailed:
			n.push(Alert{
				Kind:     AlertError,
				TaskID:   task.ID,
				Title:    task.Title,
				Message:  fmt.Sprintf("Task failed: %s", task.Title),
				DedupKey: dedupKey(task.ID),
			})
		}
	}
}

// QuestionBatch alerts for the first unanswered entry of a batch only, so a
// burst of questions for one task yields a single alert. It reports whether
// an alert fired.
func (n *Notifier) QuestionBatch(batch []Question) bool {
	for _, q := range batch {
		if q.Answered() {
			continue
		}
		n.push(Alert{
			Kind:     AlertQuestion,
			TaskID:   q.TaskID,
			Title:    q.Question,
			Message:  fmt.Sprintf("Agent question: %s", q.Question),
			DedupKey: dedupKey(q.TaskID),
		})
		return true
	}
	return false
}

// Alerts returns the pending queue, oldest first.
func (n *Notifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.alerts...)
}

// Dismiss drops one alert by ID.
func (n *Notifier) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, alert := range n.alerts {
		if alert.ID == id {
			n.alerts = append(n.alerts[:i], n.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// Activate invokes the selection callback with the alert's owning task.
func (n *Notifier) Activate(id string) bool {
	n.mu.Lock()
	var taskID string
	found := false
	for _, alert := range n.alerts {
		if alert.ID == id {
			taskID = alert.TaskID
			found = true
			break
		}
	}
	selectFn := n.selectFn
	n.mu.Unlock()
	if !found {
		return false
	}
	if selectFn != nil {
		selectFn(taskID)
	}
	return true
}

func (n *Notifier) push(alert Alert) {
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now().UTC()

	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	if len(n.alerts) > maxPendingAlerts {
		n.alerts = n.alerts[len(n.alerts)-maxPendingAlerts:]
	}
	n.mu.Unlock()

	n.logger.Info("alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("task", alert.TaskID),
		zap.String("dedup", alert.DedupKey))
}

func dedupKey(taskID string) string {
	return "task-" + taskID
}
