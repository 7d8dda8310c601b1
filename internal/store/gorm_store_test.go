package store_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/followupd/internal/model"
	"github.com/oarkflow/followupd/internal/store"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	s, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestGormStore_FollowupRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &model.User{ID: "u1", Email: "a@example.com", MailToken: "tok"}
	require.NoError(t, s.SaveUser(ctx, u))

	f := &model.Followup{
		ID:     "f1",
		UserID: "u1",
		Status: model.StatusDraft,
	}
	require.NoError(t, s.CreateFollowup(ctx, f))

	got, err := s.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDraft, got.Status)
}

func TestGormStore_ListDueFollowups_OrdersAscendingPerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))

	now := time.Now().UTC()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{
		ID: "f-later", UserID: "u1", Status: model.StatusScheduled,
		ScheduleRule: model.ScheduleRule{Enabled: true}, NextSendAt: &later,
	}))
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{
		ID: "f-earlier", UserID: "u1", Status: model.StatusScheduled,
		ScheduleRule: model.ScheduleRule{Enabled: true}, NextSendAt: &earlier,
	}))

	due, err := s.ListDueFollowups(ctx, now.Add(2*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, due["u1"], 2)
	require.Equal(t, "f-earlier", due["u1"][0].ID)
	require.Equal(t, "f-later", due["u1"][1].ID)
}

func TestGormStore_ListDueFollowups_IncludesPendingWithActiveSchedule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))

	due := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{
		ID: "f-pending", UserID: "u1", Status: model.StatusPending,
		ScheduleRule: model.ScheduleRule{Enabled: true}, NextSendAt: &due,
	}))

	got, err := s.ListDueFollowups(ctx, time.Now().UTC(), 50)
	require.NoError(t, err)
	require.Len(t, got["u1"], 1)
	require.Equal(t, "f-pending", got["u1"][0].ID)
}

func TestGormStore_ListDueFollowups_RespectsPerUserCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		due := now.Add(-time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateFollowup(ctx, &model.Followup{
			ID: "f" + strconv.Itoa(i), UserID: "u1", Status: model.StatusScheduled,
			ScheduleRule: model.ScheduleRule{Enabled: true}, NextSendAt: &due,
		}))
	}
	due, err := s.ListDueFollowups(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due["u1"], 2)
}

func TestGormStore_TransitionFollowup_WritesActivityLogAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	err := s.TransitionFollowup(ctx, "f1", func(f *model.Followup) (*model.ActivityLog, error) {
		f.Status = model.StatusScheduled
		fid := f.ID
		return &model.ActivityLog{ID: "a1", UserID: f.UserID, FollowupID: &fid, Action: "scheduled"}, nil
	})
	require.NoError(t, err)

	got, err := s.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, got.Status)
	require.Equal(t, int64(1), store.CountActivityLogsForFollowup(t, s, "f1"))

	notes, err := s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Empty(t, notes)
}

func TestGormStore_ProviderUsageSince_CountsOnlySuccessfulSendsInWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.RecordSendAttempt(ctx, "u1", "smtp", "a@b.com", true, "")
	s.RecordSendAttempt(ctx, "u1", "smtp", "c@d.com", true, "")
	s.RecordSendAttempt(ctx, "u1", "smtp", "e@f.com", false, "boom")
	s.RecordSendAttempt(ctx, "u1", "http", "a@b.com", true, "")

	usage, err := s.ProviderUsageSince(ctx, []string{"smtp", "http"}, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, usage["smtp"])
	require.Equal(t, 1, usage["http"])
}

func TestGormStore_GetFollowup_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.GetFollowup(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGormStore_DeleteFollowup_RemovesChildActivityLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	fid := "f1"
	require.NoError(t, s.AppendActivityLog(ctx, &model.ActivityLog{ID: "a1", UserID: "u1", FollowupID: &fid, Action: "create_followup"}))
	require.NoError(t, s.AppendActivityLog(ctx, &model.ActivityLog{ID: "a2", UserID: "u1", FollowupID: &fid, Action: "update_followup"}))

	require.NoError(t, s.DeleteFollowup(ctx, "f1"))

	_, err := s.GetFollowup(ctx, "f1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Zero(t, store.CountActivityLogsForFollowup(t, s, "f1"))
}

func TestGormStore_ListFollowupsByUser_ReturnsEveryStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "u1"}))

	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{ID: "f-draft", UserID: "u1", Email: "a@b.com", Status: model.StatusDraft}))
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{ID: "f-pending", UserID: "u1", Email: "a@b.com", Status: model.StatusPending}))
	require.NoError(t, s.CreateFollowup(ctx, &model.Followup{ID: "f-sent", UserID: "u1", Email: "a@b.com", Status: model.StatusSent}))

	all, err := s.ListFollowupsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 3)
}
