package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

var all = []models.AuditStatus{
	models.StatusDraft, models.StatusInProgress, models.StatusSubmitted, models.StatusReviewed,
}

func TestOnlySingleForwardStepsAreAllowed(t *testing.T) {
	allowed := map[[2]models.AuditStatus]bool{
		{models.StatusDraft, models.StatusInProgress}:     true,
		{models.StatusInProgress, models.StatusSubmitted}: true,
		{models.StatusSubmitted, models.StatusReviewed}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			err := ValidateTransition(from, to)
			if from == to || allowed[[2]models.AuditStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, apperr.IsValidation(err))
		}
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	assert.Error(t, ValidateTransition(models.StatusDraft, "archived"))
	assert.Error(t, ValidateInitial("archived"))
	assert.Error(t, ValidateInitial(models.StatusReviewed))
	assert.NoError(t, ValidateInitial(models.StatusSubmitted))
}

func TestStampFillsRequiredTimestampsOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ts, err := Stamp(models.StatusSubmitted, Timestamps{}, Timestamps{}, now)
	require.NoError(t, err)
	require.NotNil(t, ts.StartedAt)
	require.NotNil(t, ts.FinishedAt)
	assert.Equal(t, now, *ts.StartedAt)

	later := now.Add(time.Hour)
	again, err := Stamp(models.StatusSubmitted, Timestamps{}, ts, later)
	require.NoError(t, err)
	assert.Equal(t, now, *again.StartedAt)
	assert.Equal(t, now, *again.FinishedAt)
}

func TestStampDraftLeavesTimestampsEmpty(t *testing.T) {
	ts, err := Stamp(models.StatusDraft, Timestamps{}, Timestamps{}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ts.StartedAt)
	assert.Nil(t, ts.FinishedAt)
}

func TestStampRestoresRecordedFinish(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	finish := start.Add(2 * time.Hour)
	ts, err := Stamp(models.StatusInProgress, Timestamps{}, Timestamps{StartedAt: &start, FinishedAt: &finish}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, ts.FinishedAt)
	assert.Equal(t, finish, *ts.FinishedAt)
}

func TestStampExplicitValuesWin(t *testing.T) {
	recorded := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	explicit := recorded.Add(30 * time.Minute)
	ts, err := Stamp(models.StatusInProgress, Timestamps{StartedAt: &explicit}, Timestamps{StartedAt: &recorded}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, explicit, *ts.StartedAt)
}

func TestStampRejectsFinishBeforeStart(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	finish := start.Add(-time.Minute)
	_, err := Stamp(models.StatusSubmitted, Timestamps{StartedAt: &start, FinishedAt: &finish}, Timestamps{}, time.Now())
	require.Error(t, err)
	assert.Contains(t, apperr.Describe(err).Fields, "finished_at")
}
