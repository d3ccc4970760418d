package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/samara-industry/stockledger/internal/jobs"
	"github.com/samara-industry/stockledger/internal/ledger"
)

// IntegrityChecker recomputes the ledger invariants.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.IntegrityIssue, error)
}

// LedgerIntegrityJob scans the ledger and reports every row breaking an invariant.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Checker: checker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan for an Asynq task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run performs one scan and returns the issues found.
func (j *LedgerIntegrityJob) Run(ctx context.Context, payload LedgerIntegrityPayload) (issues []ledger.IntegrityIssue, err error) {
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.now()
	logger := j.logger().With(slog.String("job", TaskLedgerIntegrity))
	if !payload.ScheduledFor.IsZero() {
		logger = logger.With(slog.Time("scheduled_for", payload.ScheduledFor))
	}
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}
	logger.Info("starting ledger integrity scan")

	issues, err = j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return nil, err
	}

	byKind := make(map[string]int)
	for _, issue := range issues {
		byKind[issue.Kind]++
		logger.Warn("ledger integrity issue",
			slog.String("kind", issue.Kind),
			slog.String("ref_type", issue.RefType),
			slog.String("ref_id", issue.RefID),
			slog.String("detail", issue.Detail),
		)
	}
	for kind, n := range byKind {
		j.Metrics.AddIntegrityIssues(kind, n)
	}

	logger.Info("ledger integrity scan completed",
		slog.Int("issues", len(issues)),
		slog.Duration("elapsed", j.now().Sub(start)),
	)
	return issues, nil
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
