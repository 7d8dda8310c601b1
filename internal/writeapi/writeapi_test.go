package writeapi_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/followupd/internal/clock"
	"github.com/oarkflow/followupd/internal/model"
	"github.com/oarkflow/followupd/internal/store"
	"github.com/oarkflow/followupd/internal/writeapi"
)

func newTestAPI(t *testing.T, now time.Time) (*writeapi.API, *store.GormStore) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	return writeapi.New(st, clock.Fixed{At: now}, "UTC"), st
}

func TestCreateFollowup_RequiresEmailForEmailChannel(t *testing.T) {
	ctx := context.Background()
	api, _ := newTestAPI(t, time.Now().UTC())
	_, err := api.CreateFollowup(ctx, "u1", writeapi.FollowupFields{Channel: "email"}, "")
	require.ErrorIs(t, err, writeapi.ErrContactMissing)
}

func TestCreateFollowup_Succeeds(t *testing.T) {
	ctx := context.Background()
	api, _ := newTestAPI(t, time.Now().UTC())
	f, err := api.CreateFollowup(ctx, "u1", writeapi.FollowupFields{
		ClientName: "Client", Email: "c@example.com", Channel: "email",
	}, "2026-01-01")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, f.Status)
}

func TestSetScheduleRule_RejectsFinalized(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	api, st := newTestAPI(t, now)

	sentAt := now.Add(-time.Hour)
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{
		ID: "f1", UserID: "u1", Status: model.StatusSent, SentCount: 1, LastSentAt: &sentAt,
	}))

	err := api.SetScheduleRule(ctx, "f1", "u1", writeapi.RuleInput{
		Repeat: "once", StartDate: "2026-02-17", SendTime: "09:00",
	})
	require.ErrorIs(t, err, writeapi.ErrAlreadyFinalized)

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, got.Status)
}

func TestSetScheduleRule_InstallsRuleAndSchedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	api, st := newTestAPI(t, now)

	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	err := api.SetScheduleRule(ctx, "f1", "u1", writeapi.RuleInput{
		Repeat: "once", StartDate: "2026-02-17", SendTime: "09:00",
	})
	require.NoError(t, err)

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, got.Status)
	require.NotNil(t, got.NextSendAt)
	require.NotEmpty(t, got.DueDate)
}

func TestClearSchedule_PreservesSentStatusWhenEverSent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	api, st := newTestAPI(t, now)

	sentAt := now.Add(-time.Hour)
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{
		ID: "f1", UserID: "u1", Status: model.StatusSent, SentCount: 1, LastSentAt: &sentAt,
	}))

	require.NoError(t, api.ClearSchedule(ctx, "f1", "u1"))

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, got.Status)
	require.Nil(t, got.NextSendAt)
}

func TestClearSchedule_RevertsToPendingWhenNeverSent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	api, st := newTestAPI(t, now)

	next := now.Add(time.Hour)
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{
		ID: "f1", UserID: "u1", Status: model.StatusScheduled,
		ScheduleRule: model.ScheduleRule{Enabled: true, Repeat: model.RepeatOnce}, NextSendAt: &next,
	}))

	require.NoError(t, api.ClearSchedule(ctx, "f1", "u1"))

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
	require.Nil(t, got.NextSendAt)
}

func TestBulkSetScheduleRule_SkipsAlreadySentCount(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	api, st := newTestAPI(t, now)

	ids := []string{"f1", "f2", "f3", "f4", "f5"}
	for i, id := range ids {
		f := &model.Followup{ID: id, UserID: "u1", Status: model.StatusPending}
		if i == 0 {
			sentAt := now.Add(-time.Hour)
			f.SentCount = 1
			f.LastSentAt = &sentAt
			f.Status = model.StatusSent
		}
		require.NoError(t, st.CreateFollowup(ctx, f))
	}

	affected, err := api.BulkSetScheduleRule(ctx, "u1", ids, map[string]any{
		"frequency":  "once",
		"start_date": "2026-02-20",
		"send_time":  "09:00",
	})
	require.NoError(t, err)
	require.Equal(t, 4, affected)

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, got.Status)
	require.Equal(t, 1, got.SentCount)
}

func TestMarkDoneByID(t *testing.T) {
	ctx := context.Background()
	api, st := newTestAPI(t, time.Now().UTC())
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	require.NoError(t, api.MarkDoneByID(ctx, "f1", "u1"))

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
}

func TestDeleteFollowup(t *testing.T) {
	ctx := context.Background()
	api, st := newTestAPI(t, time.Now().UTC())
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	require.NoError(t, api.DeleteFollowup(ctx, "f1", "u1"))

	_, err := st.GetFollowup(ctx, "f1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkDoneByEmail_MatchesNonScheduledFollowup(t *testing.T) {
	ctx := context.Background()
	api, st := newTestAPI(t, time.Now().UTC())
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{
		ID: "f1", UserID: "u1", Email: "client@example.com", Status: model.StatusPending,
	}))

	require.NoError(t, api.MarkDoneByEmail(ctx, "u1", "client@example.com"))

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
}

func TestMarkDoneByPhone_MatchesDraftFollowup(t *testing.T) {
	ctx := context.Background()
	api, st := newTestAPI(t, time.Now().UTC())
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{
		ID: "f1", UserID: "u1", Phone: "+15551234", Status: model.StatusDraft,
	}))

	require.NoError(t, api.MarkDoneByPhone(ctx, "u1", "+15551234"))

	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
}

func TestMarkDoneByEmail_NoMatchReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	api, _ := newTestAPI(t, time.Now().UTC())
	err := api.MarkDoneByEmail(ctx, "u1", "nobody@example.com")
	require.ErrorIs(t, err, writeapi.ErrNotFound)
}

func TestUpdateMessageOverride_SetsAndClears(t *testing.T) {
	ctx := context.Background()
	api, st := newTestAPI(t, time.Now().UTC())
	require.NoError(t, st.CreateFollowup(ctx, &model.Followup{ID: "f1", UserID: "u1", Status: model.StatusPending}))

	text := "Hi there"
	require.NoError(t, api.UpdateMessageOverride(ctx, "f1", "u1", &text))
	got, err := st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "Hi there", *got.MessageOverride)

	require.NoError(t, api.UpdateMessageOverride(ctx, "f1", "u1", nil))
	got, err = st.GetFollowup(ctx, "f1")
	require.NoError(t, err)
	require.Nil(t, got.MessageOverride)
}
