package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/posture-check/internal/logging"
)

// SessionLog is the persisted summary of a finished monitoring session.
type SessionLog struct {
	ID                      uint      `gorm:"primaryKey"`
	SessionID               string    `gorm:"column:session_id;uniqueIndex;size:64"`
	UserID                  string    `gorm:"column:user_id;index;size:64"`
	StartedAt               time.Time `gorm:"column:started_at"`
	EndedAt                 time.Time `gorm:"column:ended_at"`
	GoodFrames              int       `gorm:"column:good_frames"`
	BadFrames               int       `gorm:"column:bad_frames"`
	SkippedFrames           int       `gorm:"column:skipped_frames"`
	Alerts                  int       `gorm:"column:alerts"`
	LongestBadStreakSeconds float64   `gorm:"column:longest_bad_streak_seconds"`
	EndReason               string    `gorm:"column:end_reason;size:32"`
}

// TableName overrides the default table name.
func (SessionLog) TableName() string {
	return "posture_sessions"
}

// MetricsAggregation is the raw aggregate over all session logs.
type MetricsAggregation struct {
	TotalSessions          int64
	TotalGoodFrames        int64
	TotalBadFrames         int64
	TotalSkippedFrames     int64
	TotalAlerts            int64
	AverageDurationSeconds float64
}

// SessionRepository provides persistence APIs for session logs.
type SessionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSessionRepository creates a new repository instance.
func NewSessionRepository(db *gorm.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:             db,
		logger:         logger.Named("session_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SessionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&SessionLog{})
}

// SaveLog persists a session summary.
func (r *SessionRepository) SaveLog(ctx context.Context, log *SessionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySessionIDAndUser retrieves a session log matching the session and owner.
func (r *SessionRepository) FindBySessionIDAndUser(ctx context.Context, sessionID, userID string) (*SessionLog, error) {
	var log SessionLog
	err := r.executeWithRetry(ctx, "repository.find_session", sessionID, func() error {
		return r.db.WithContext(ctx).First(&log, "session_id = ? AND user_id = ?", sessionID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics sums frame and alert counters over every stored session.
func (r *SessionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalSessions          int64
		TotalGoodFrames        int64
		TotalBadFrames         int64
		TotalSkippedFrames     int64
		TotalAlerts            int64
		AverageDurationSeconds float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&SessionLog{}).
			Select(`COUNT(*) AS total_sessions,
				COALESCE(SUM(good_frames), 0) AS total_good_frames,
				COALESCE(SUM(bad_frames), 0) AS total_bad_frames,
				COALESCE(SUM(skipped_frames), 0) AS total_skipped_frames,
				COALESCE(SUM(alerts), 0) AS total_alerts,
				COALESCE(AVG(EXTRACT(EPOCH FROM (ended_at - started_at))), 0) AS average_duration_seconds`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalSessions:          row.TotalSessions,
		TotalGoodFrames:        row.TotalGoodFrames,
		TotalBadFrames:         row.TotalBadFrames,
		TotalSkippedFrames:     row.TotalSkippedFrames,
		TotalAlerts:            row.TotalAlerts,
		AverageDurationSeconds: row.AverageDurationSeconds,
	}, nil
}

func (r *SessionRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) || !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
