package automation_test

import (
	"context"
	"testing"
	"time"

	"lead-nurture/internal/automation"
	"lead-nurture/internal/models"
	"lead-nurture/internal/notify"
	"lead-nurture/internal/store"
	"lead-nurture/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []notify.ReplyEvent
}

func (n *recordingNotifier) NotifyReply(_ context.Context, ev notify.ReplyEvent) error {
	n.events = append(n.events, ev)
	return nil
}

func TestReplies_MarkReplied(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	admin := testutil.CreateUser(t, db, clinic.ID, "admin@north.test", models.RoleAdmin)
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)

	quiet := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	loud := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 7)
	require.NoError(t, db.Model(loud).Update("notify_on_reply", true).Error)

	ledger := store.NewLedger(db)
	rules := store.NewRuleStore(db)
	notifier := &recordingNotifier{}
	replies := automation.NewReplies(ledger, rules, store.NewActivityLog(db), store.NewDirectory(db, time.Minute), notifier)

	quietExec := testutil.CreateExecution(t, db, quiet, lead.ID, now)
	loudExec := testutil.CreateExecution(t, db, loud, lead.ID, now)

	repliedAt := now.Add(3 * time.Hour)
	got, err := replies.MarkReplied(ctx, quietExec.ID, repliedAt)
	require.NoError(t, err)
	assert.True(t, got.Replied)
	assert.Empty(t, notifier.events, "rule without notify flag stays silent")

	_, err = replies.MarkReplied(ctx, loudExec.ID, repliedAt)
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, loudExec.ID, notifier.events[0].ExecutionID)
	assert.Equal(t, loud.Name, notifier.events[0].AutomationName)
	assert.True(t, repliedAt.Equal(notifier.events[0].RepliedAt))

	_, err = replies.MarkReplied(ctx, loudExec.ID, repliedAt.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrAlreadyReplied)
	assert.Len(t, notifier.events, 1)

	_, err = replies.MarkReplied(ctx, 4242, repliedAt)
	assert.ErrorIs(t, err, store.ErrNotFound)

	reloaded, err := rules.Get(ctx, loud.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reloaded.ReplyCount)
	require.NotNil(t, reloaded.SuccessRate)
	assert.InDelta(t, 100.0, *reloaded.SuccessRate, 1e-9)

	var acts []models.Activity
	require.NoError(t, db.Where("type = ?", models.ActivityAutomationReply).Find(&acts).Error)
	require.Len(t, acts, 2)
	for _, a := range acts {
		require.NotNil(t, a.UserID)
		assert.Equal(t, admin.ID, *a.UserID)
	}
}

func TestSuccessRate(t *testing.T) {
	assert.Nil(t, automation.SuccessRate(0, 0))

	rate := automation.SuccessRate(8, 3)
	require.NotNil(t, rate)
	assert.InDelta(t, 37.5, *rate, 1e-9)

	rate = automation.SuccessRate(5, 0)
	require.NotNil(t, rate)
	assert.Zero(t, *rate)
}
