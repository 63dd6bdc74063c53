package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"lead-nurture/internal/models"
	"lead-nurture/internal/store"
	"lead-nurture/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowKey_TruncatesToHour(t *testing.T) {
	a := time.Date(2026, 10, 16, 12, 5, 0, 0, time.UTC)
	b := time.Date(2026, 10, 16, 12, 59, 59, 0, time.UTC)
	c := time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)

	assert.Equal(t, store.WindowKey(a), store.WindowKey(b))
	assert.NotEqual(t, store.WindowKey(a), store.WindowKey(c))
	assert.Equal(t, "2026-10-16T12", store.WindowKey(a))
}

func TestLedger_RecordAndSuppress(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, testutil.DaysAgo(now, 4))
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)
	cutoff := now.Add(-3 * 24 * time.Hour)

	exec, err := ledger.Record(ctx, rule, lead.ID, cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, rule.Message, exec.Message)
	assert.False(t, exec.Replied)
	assert.Nil(t, exec.RepliedAt)

	_, err = ledger.Record(ctx, rule, lead.ID, cutoff, now.Add(30*time.Minute))
	assert.ErrorIs(t, err, store.ErrSuppressed)

	last, err := ledger.LastExecutedAt(ctx, rule.ID, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, now.Equal(*last))

	var reloaded models.AutomationRule
	require.NoError(t, db.First(&reloaded, rule.ID).Error)
	assert.EqualValues(t, 1, reloaded.TotalExecutions)
	require.NotNil(t, reloaded.LastExecutedAt)
	assert.True(t, now.Equal(*reloaded.LastExecutedAt))
}

func TestLedger_LastExecutedAt(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)
	other := testutil.CreateLead(t, db, clinic.ID, "ben", models.LeadStatusHot, nil)
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)

	last, err := ledger.LastExecutedAt(ctx, rule.ID, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	testutil.CreateExecution(t, db, rule, lead.ID, now.Add(-5*24*time.Hour))
	testutil.CreateExecution(t, db, rule, lead.ID, now.Add(-24*time.Hour))
	testutil.CreateExecution(t, db, rule, other.ID, now)

	last, err = ledger.LastExecutedAt(ctx, rule.ID, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, now.Add(-24*time.Hour).Equal(*last))
}

func TestLedger_RecordMapsWindowCollisionToSuppressed(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)

	// an older row that already holds this hour's window key
	require.NoError(t, db.Create(&models.AutomationExecution{
		AutomationID: rule.ID,
		LeadID:       lead.ID,
		ExecutedAt:   now.Add(-10 * 24 * time.Hour),
		WindowKey:    store.WindowKey(now),
		Message:      rule.Message,
	}).Error)

	_, err := ledger.Record(ctx, rule, lead.ID, now.Add(-3*24*time.Hour), now.Add(10*time.Minute))
	assert.ErrorIs(t, err, store.ErrSuppressed)

	var reloaded models.AutomationRule
	require.NoError(t, db.First(&reloaded, rule.ID).Error)
	assert.Zero(t, reloaded.TotalExecutions, "a rejected insert leaves the counter alone")
}

func TestLedger_ConcurrentRecordFiresOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, testutil.DaysAgo(now, 4))
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)
	cutoff := now.Add(-3 * 24 * time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Record(ctx, rule, lead.ID, cutoff, now)
			if err == nil {
				mu.Lock()
				recorded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrSuppressed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, recorded)
	counts, err := ledger.CountsFor(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total)
}

func TestLedger_MarkRepliedOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)

	exec := testutil.CreateExecution(t, db, rule, lead.ID, now)

	repliedAt := now.Add(2 * time.Hour)
	updated, err := ledger.MarkReplied(ctx, exec.ID, repliedAt)
	require.NoError(t, err)
	assert.True(t, updated.Replied)
	require.NotNil(t, updated.RepliedAt)
	assert.True(t, repliedAt.Equal(*updated.RepliedAt))

	_, err = ledger.MarkReplied(ctx, exec.ID, repliedAt.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrAlreadyReplied)

	_, err = ledger.MarkReplied(ctx, 9999, repliedAt)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var reloaded models.AutomationRule
	require.NoError(t, db.First(&reloaded, rule.ID).Error)
	assert.EqualValues(t, 1, reloaded.ReplyCount)

	counts, err := ledger.CountsFor(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCounts{Total: 1, Replies: 1}, counts)
}

func TestLedger_LatestUnreplied(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := testutil.Now

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	ledger := store.NewLedger(db)

	_, err := ledger.LatestUnreplied(ctx, lead.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	older := testutil.CreateExecution(t, db, rule, lead.ID, now.Add(-10*24*time.Hour))
	newer := testutil.CreateExecution(t, db, rule, lead.ID, now.Add(-2*24*time.Hour))

	latest, err := ledger.LatestUnreplied(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = ledger.MarkReplied(ctx, newer.ID, now)
	require.NoError(t, err)
	latest, err = ledger.LatestUnreplied(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, latest.ID)
}

func TestRuleStore_DeleteCascadesExecutions(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()

	clinic := testutil.CreateClinic(t, db, "North")
	lead := testutil.CreateLead(t, db, clinic.ID, "ana", models.LeadStatusHot, nil)
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	rules := store.NewRuleStore(db)

	testutil.CreateExecution(t, db, rule, lead.ID, testutil.Now)

	require.NoError(t, rules.Delete(ctx, rule.ID))
	assert.ErrorIs(t, rules.Delete(ctx, rule.ID), store.ErrNotFound)

	var n int64
	require.NoError(t, db.Model(&models.AutomationExecution{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRuleStore_UpdateMissingRule(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()

	clinic := testutil.CreateClinic(t, db, "North")
	rule := testutil.CreateRule(t, db, clinic.ID, models.LeadStatusHot, 3)
	rules := store.NewRuleStore(db)

	assert.NoError(t, rules.Update(ctx, rule.ID, map[string]interface{}{}))
	assert.ErrorIs(t, rules.Update(ctx, 999, map[string]interface{}{}), store.ErrNotFound)
	assert.ErrorIs(t, rules.Update(ctx, 999, map[string]interface{}{"reply_count": 4}), store.ErrNotFound, "stats-only updates are dropped before the lookup")
	assert.ErrorIs(t, rules.Update(ctx, 999, map[string]interface{}{"name": "x"}), store.ErrNotFound)
}
