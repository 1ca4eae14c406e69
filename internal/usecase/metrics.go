package usecase

import "context"

// MetricsSummary represents aggregated posture insights.
type MetricsSummary struct {
	TotalSessions         int64   `json:"total_sessions"`
	ActiveSessions        int     `json:"active_sessions"`
	ClassifiedFrames      int64   `json:"classified_frames"`
	GoodPostureRate       float64 `json:"good_posture_rate"`
	SkippedFrames         int64   `json:"skipped_frames"`
	Alerts                int64   `json:"alerts"`
	AverageSessionSeconds float64 `json:"average_session_seconds"`
}

// GetMetricsSummary aggregates posture metrics from persisted session logs.
func (uc *MonitoringUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	classified := aggregation.TotalGoodFrames + aggregation.TotalBadFrames
	summary := &MetricsSummary{
		TotalSessions:         aggregation.TotalSessions,
		ActiveSessions:        uc.sessions.Len(),
		ClassifiedFrames:      classified,
		SkippedFrames:         aggregation.TotalSkippedFrames,
		Alerts:                aggregation.TotalAlerts,
		AverageSessionSeconds: aggregation.AverageDurationSeconds,
	}

	if classified > 0 {
		summary.GoodPostureRate = float64(aggregation.TotalGoodFrames) / float64(classified)
	}

	return summary, nil
}
