package store

import (
	"testing"

	"github.com/oarkflow/followupd/internal/model"
)

// CountActivityLogsForFollowup is a white-box test helper exposing the raw
// row count so gorm_store_test.go can assert DeleteFollowup's cascade
// without adding a production-facing query method.
func CountActivityLogsForFollowup(t *testing.T, s *GormStore, followupID string) int64 {
	t.Helper()
	var count int64
	require := s.db.Model(&model.ActivityLog{}).Where("followup_id = ?", followupID).Count(&count)
	if require.Error != nil {
		t.Fatalf("count activity logs: %v", require.Error)
	}
	return count
}
