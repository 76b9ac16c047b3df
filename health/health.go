// Package health scores pipelines by the success rate of their recent executions.
package health

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/logger"
)

// Status is the health bucket of a pipeline
type Status string

const (
	StatusNoExecutions Status = "no_executions"
	StatusCritical     Status = "critical"
	StatusWarning      Status = "warning"
	StatusDegraded     Status = "degraded"
	StatusHealthy      Status = "healthy"
)

// NeutralScore is reported when there is nothing to judge
const NeutralScore = 50

// Issue texts
const (
	IssueNoRecentExecutions = "No recent executions"
	IssueLowSuccessRate     = "Low success rate"
)

// Report is the health of one pipeline
type Report struct {
	PipelineID string    `json:"pipelineId"`
	Status     Status    `json:"status"`
	Score      int       `json:"score"`
	Issues     []string  `json:"issues"`
	Total      int       `json:"total"`
	Failed     int       `json:"failed"`
	Window     string    `json:"window"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// ExecutionLister reads recent executions
type ExecutionLister interface {
	ListSince(ctx context.Context, pipelineID string, since time.Time) ([]*execution.Execution, error)
}

// Monitor computes health reports on demand
type Monitor struct {
	executions ExecutionLister
	window     time.Duration
	now        func() time.Time
	logger     *zap.SugaredLogger
}

// NewMonitor creates a monitor over a trailing window (zero = 24h)
func NewMonitor(executions ExecutionLister, window time.Duration, log *zap.SugaredLogger) *Monitor {
	if window <= 0 {
		window = am.DefaultHealthWindowHours * time.Hour
	}
	return &Monitor{
		executions: executions,
		window:     window,
		now:        time.Now,
		logger:     logger.OrNop(log),
	}
}

// SetClock replaces the time source (tests)
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// GetHealth scores pipelineID over the trailing window. Running executions
// count toward the total and not as failures.
func (m *Monitor) GetHealth(ctx context.Context, pipelineID string) (*Report, error) {
	now := m.now()
	recent, err := m.executions.ListSince(ctx, pipelineID, now.Add(-m.window))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read executions of pipeline %s", pipelineID)
	}

	failed := 0
	for _, e := range recent {
		if e.Status == execution.StatusFailed {
			failed++
		}
	}
	r := Evaluate(len(recent), failed, m.window)
	r.PipelineID = pipelineID
	r.CheckedAt = now

	m.logger.Debugw("Health evaluated",
		logger.FieldPipelineID, pipelineID,
		logger.FieldStatus, string(r.Status),
		"score", r.Score,
		"total", r.Total,
		"failed", r.Failed,
	)
	return r, nil
}

// Evaluate turns execution counts into a report
func Evaluate(total, failed int, window time.Duration) *Report {
	label := formatWindow(window)
	if total == 0 {
		return &Report{
			Status: StatusNoExecutions,
			Score:  NeutralScore,
			Issues: []string{IssueNoRecentExecutions},
			Window: label,
		}
	}

	successRate := float64(total-failed) / float64(total)
	score := int(math.Round(100 * successRate))

	issues := []string{}
	if successRate < 0.8 {
		issues = append(issues, IssueLowSuccessRate)
	}
	if failed > 0 {
		issues = append(issues, fmt.Sprintf("%d failed executions in the last %s", failed, label))
	}

	return &Report{
		Status: bucket(score),
		Score:  score,
		Issues: issues,
		Total:  total,
		Failed: failed,
		Window: label,
	}
}

func bucket(score int) Status {
	switch {
	case score < 50:
		return StatusCritical
	case score < 80:
		return StatusWarning
	case score < 95:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
