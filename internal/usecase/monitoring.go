package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/posture-check/internal/logging"
	"github.com/example/posture-check/internal/poseestimator"
	"github.com/example/posture-check/internal/posture"
	"github.com/example/posture-check/internal/repository"
	"github.com/example/posture-check/internal/session"
)

// ErrPoseEstimation reports that the pose engine could not process a frame.
var ErrPoseEstimation = errors.New("pose estimation failed")

// SessionRepository defines the persistence operations needed by the use case.
type SessionRepository interface {
	SaveLog(ctx context.Context, log *repository.SessionLog) error
	FindBySessionIDAndUser(ctx context.Context, sessionID, userID string) (*repository.SessionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// StartRequest describes the camera feed the client acquired.
type StartRequest struct {
	Width       int
	Height      int
	CameraError string
}

// LandmarksRequest carries a frame whose pose was estimated on the client.
type LandmarksRequest struct {
	Landmarks     []poseestimator.Landmark
	Width, Height int
	CapturedAt    time.Time
}

// FrameOutcome is the result of submitting one frame. Skipped frames carry
// the reason instead of a report.
type FrameOutcome struct {
	Report  *session.FrameReport
	Skipped bool
	Reason  string
}

// MonitoringUseCase encapsulates business logic for posture monitoring sessions.
type MonitoringUseCase struct {
	sessions       *session.Manager
	repo           SessionRepository
	cache          Cache
	estimator      poseestimator.Client
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewMonitoringUseCase constructs a new use case instance.
func NewMonitoringUseCase(sessions *session.Manager, repo SessionRepository, cache Cache, estimator poseestimator.Client, logger *zap.Logger) *MonitoringUseCase {
	return &MonitoringUseCase{
		sessions:       sessions,
		repo:           repo,
		cache:          cache,
		estimator:      estimator,
		logger:         logger.Named("monitoring_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// StartSession acquires the client's camera feed and opens a monitoring session.
func (uc *MonitoringUseCase) StartSession(ctx context.Context, userID string, req StartRequest) (*session.Status, error) {
	source := session.ClientMedia{Width: req.Width, Height: req.Height, DeviceError: req.CameraError}
	monitor, err := uc.sessions.Start(ctx, userID, source)
	if err != nil {
		return nil, logging.NewOperationError("usecase.start_session", "", err)
	}

	status := monitor.Snapshot()
	uc.cacheStatus(ctx, status)
	return &status, nil
}

// SubmitImage runs pose estimation on an encoded frame and classifies it.
func (uc *MonitoringUseCase) SubmitImage(ctx context.Context, userID, sessionID string, image []byte, capturedAt time.Time) (*FrameOutcome, error) {
	monitor, err := uc.ownedMonitor(userID, sessionID)
	if err != nil {
		return nil, err
	}

	result, err := uc.estimator.Estimate(ctx, sessionID, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.estimate_pose", sessionID, fmt.Errorf("%w: %w", ErrPoseEstimation, err))
		logging.WithOperation(uc.logger, "usecase.submit_image", sessionID).Error("pose estimation failed", logging.ErrorFields(wrapped)...)
		return nil, wrapped
	}

	lm, err := result.FrameLandmarks()
	if err != nil && !posture.IsFrameSkippable(err) {
		return nil, logging.NewOperationError("usecase.decode_landmarks", sessionID, err)
	}
	return uc.process(ctx, monitor, session.Frame{
		Landmarks:  lm,
		Dimensions: session.Dimensions{Width: result.Width, Height: result.Height},
		CapturedAt: capturedAt,
	})
}

// SubmitLandmarks classifies a frame whose landmarks were extracted by the
// client. An empty or partial list counts as no pose detected. Zero
// dimensions mean the frame has the session's size.
func (uc *MonitoringUseCase) SubmitLandmarks(ctx context.Context, userID, sessionID string, req LandmarksRequest) (*FrameOutcome, error) {
	monitor, err := uc.ownedMonitor(userID, sessionID)
	if err != nil {
		return nil, err
	}

	lm, err := poseestimator.FromLandmarks(req.Landmarks)
	if err != nil && !posture.IsFrameSkippable(err) {
		return nil, logging.NewOperationError("usecase.decode_landmarks", sessionID, err)
	}
	return uc.process(ctx, monitor, session.Frame{
		Landmarks:  lm,
		Dimensions: session.Dimensions{Width: req.Width, Height: req.Height},
		CapturedAt: req.CapturedAt,
	})
}

// GetStatus returns the live status of a session, falling back to the cached
// snapshot and finally to the persisted summary of a finished session.
func (uc *MonitoringUseCase) GetStatus(ctx context.Context, userID, sessionID string) (*session.Status, error) {
	if monitor, err := uc.ownedMonitor(userID, sessionID); err == nil {
		status := monitor.Snapshot()
		return &status, nil
	}

	opLogger := logging.WithOperation(uc.logger, "usecase.get_status", sessionID)
	if cached, err := uc.withRedisGet(ctx, sessionID, "cache.get.status", statusKey(sessionID)); err == nil {
		status, err := decodeStatus(cached)
		if err != nil {
			opLogger.Warn("failed to decode cached status", zap.Error(err))
		} else if status.UserID == userID {
			return status, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", logging.ErrorFields(err)...)
	}

	log, err := uc.repo.FindBySessionIDAndUser(ctx, sessionID, userID)
	if err != nil {
		return nil, session.ErrSessionNotFound
	}
	return statusFromLog(log), nil
}

// StopSession ends a session, persists its summary and returns the final status.
func (uc *MonitoringUseCase) StopSession(ctx context.Context, userID, sessionID string) (*session.Status, error) {
	if _, err := uc.ownedMonitor(userID, sessionID); err != nil {
		return nil, err
	}
	monitor, err := uc.sessions.Stop(sessionID)
	if err != nil {
		return nil, err
	}

	// cached first so the final status stays readable if the database is down
	status := monitor.Snapshot()
	uc.cacheStatus(ctx, status)
	if err := uc.persist(ctx, status, "stopped"); err != nil {
		return nil, err
	}
	return &status, nil
}

// FinalizeSession persists the summary of a session that was closed outside
// of StopSession, e.g. for inactivity or at shutdown.
func (uc *MonitoringUseCase) FinalizeSession(monitor *session.Monitor, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := monitor.Snapshot()
	uc.cacheStatus(ctx, status)
	_ = uc.persist(ctx, status, reason)
}

func (uc *MonitoringUseCase) process(ctx context.Context, monitor *session.Monitor, frame session.Frame) (*FrameOutcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.process_frame", monitor.ID())

	report, err := monitor.Process(frame, uc.now())
	if err != nil {
		if posture.IsFrameSkippable(err) {
			opLogger.Debug("frame skipped", zap.Error(err))
			return &FrameOutcome{Skipped: true, Reason: err.Error()}, nil
		}
		if errors.Is(err, session.ErrSessionClosed) {
			return nil, session.ErrSessionNotFound
		}
		return nil, logging.NewOperationError("usecase.process_frame", monitor.ID(), err)
	}

	if report.AlertTriggered {
		opLogger.Warn("prolonged bad posture",
			zap.Float64("streak_seconds", report.StreakSeconds),
			zap.Int("neck_angle", report.NeckAngle),
			zap.Int("torso_angle", report.TorsoAngle),
		)
	}
	uc.cacheStatus(ctx, monitor.Snapshot())
	return &FrameOutcome{Report: report}, nil
}

func (uc *MonitoringUseCase) ownedMonitor(userID, sessionID string) (*session.Monitor, error) {
	monitor, err := uc.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if monitor.Owner() != userID {
		return nil, session.ErrSessionNotFound
	}
	return monitor, nil
}

func (uc *MonitoringUseCase) persist(ctx context.Context, status session.Status, reason string) error {
	log := &repository.SessionLog{
		SessionID:               status.SessionID,
		UserID:                  status.UserID,
		StartedAt:               status.StartedAt.UTC(),
		EndedAt:                 uc.now().UTC(),
		GoodFrames:              status.Totals.GoodFrames,
		BadFrames:               status.Totals.BadFrames,
		SkippedFrames:           status.Totals.SkippedFrames,
		Alerts:                  status.Totals.Alerts,
		LongestBadStreakSeconds: status.Totals.LongestBadStreakSeconds,
		EndReason:               reason,
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", status.SessionID, err)
		logging.WithOperation(uc.logger, "usecase.persist", status.SessionID).Error("failed to persist session log", logging.ErrorFields(wrapped)...)
		return wrapped
	}
	return nil
}

// cacheStatus is best effort: a cache outage must not interrupt monitoring.
func (uc *MonitoringUseCase) cacheStatus(ctx context.Context, status session.Status) {
	serialized, err := encodeStatus(status)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_status", status.SessionID).Error("failed to serialize status", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, status.SessionID, "cache.set.status", func() error {
		return uc.cache.Set(ctx, statusKey(status.SessionID), serialized, statusTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_status", status.SessionID).Warn("failed to cache status", logging.ErrorFields(err)...)
	}
}

func (uc *MonitoringUseCase) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func (uc *MonitoringUseCase) withRedisGet(ctx context.Context, sessionID, operation, key string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func statusFromLog(log *repository.SessionLog) *session.Status {
	return &session.Status{
		SessionID:   log.SessionID,
		UserID:      log.UserID,
		StartedAt:   log.StartedAt,
		LastFrameAt: log.EndedAt,
		Totals: session.Totals{
			GoodFrames:              log.GoodFrames,
			BadFrames:               log.BadFrames,
			SkippedFrames:           log.SkippedFrames,
			Alerts:                  log.Alerts,
			LongestBadStreakSeconds: log.LongestBadStreakSeconds,
		},
		Closed: true,
	}
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
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
