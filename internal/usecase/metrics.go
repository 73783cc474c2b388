package usecase

import "context"

// MetricsSummary aggregates verification state across all records.
type MetricsSummary struct {
	TotalRecords  int64   `json:"total_records"`
	AIVerified    int64   `json:"ai_verified"`
	AdminVerified int64   `json:"admin_verified"`
	VerifiedRate  float64 `json:"verified_rate"`
}

// MetricsSummary aggregates verification metrics from persisted records.
func (uc *KycUseCase) MetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	agg, err := uc.store.AggregateKycMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRecords:  agg.Total,
		AIVerified:    agg.AIVerified,
		AdminVerified: agg.AdminVerified,
	}
	if agg.Total > 0 {
		summary.VerifiedRate = float64(agg.Verified) / float64(agg.Total)
	}
	return summary, nil
}
