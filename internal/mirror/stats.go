package mirror

import "go.uber.org/zap"

type DiscoveryStats struct {
	Seen                  int
	Emitted               int
	SkippedTooOld         int
	SkippedNoMergeBase    int
	SkippedOverlayUpdated int
	SkippedConflict       int
	SkippedUpToDate       int
	Failures              int
}

func (s *DiscoveryStats) countSkip(reason SkipReason) {
	switch reason {
	case SkipReasonTooOld:
		s.SkippedTooOld++
	case SkipReasonNoMergeBase:
		s.SkippedNoMergeBase++
	case SkipReasonOverlayUpdated:
		s.SkippedOverlayUpdated++
	case SkipReasonConflict:
		s.SkippedConflict++
	case SkipReasonUpToDate:
		s.SkippedUpToDate++
	}
}

func (s *DiscoveryStats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("discovery.seen", s.Seen),
		zap.Int("discovery.emitted", s.Emitted),
		zap.Int("discovery.skipped_too_old", s.SkippedTooOld),
		zap.Int("discovery.skipped_no_merge_base", s.SkippedNoMergeBase),
		zap.Int("discovery.skipped_overlay_updated", s.SkippedOverlayUpdated),
		zap.Int("discovery.skipped_conflict", s.SkippedConflict),
		zap.Int("discovery.skipped_up_to_date", s.SkippedUpToDate),
		zap.Int("discovery.failures", s.Failures),
	}
}

type UpsertStats struct {
	Processed int
	Upserted  int
	Failures  int
}

func (s *UpsertStats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("upsert.processed", s.Processed),
		zap.Int("upsert.upserted", s.Upserted),
		zap.Int("upsert.failures", s.Failures),
	}
}

type PromotionStats struct {
	Found      int
	Promoted   int
	Unparsable int
	Failures   int
}

func (s *PromotionStats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("promotion.pending_found", s.Found),
		zap.Int("promotion.promoted", s.Promoted),
		zap.Int("promotion.unparsable", s.Unparsable),
		zap.Int("promotion.failures", s.Failures),
	}
}
