package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ClassifiesControlVerbs(t *testing.T) {
	tests := []struct {
		query string
		want  Kind
	}{
		{"SELECT 1", KindNormal},
		{"squale_global_stats", KindGlobalStats},
		{"squale_local_stats", KindLocalStats},
		{"squale_startup", KindStartup},
		{"squale_shutdown", KindShutdown},
		{"squale_global_shutdown", KindGlobalShutdown},
		{"squale_shutdown  \t\n", KindShutdown},
		{"squale_shutdownXYZ", KindNormal},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			j := New(tt.query)
			assert.Equal(t, tt.want, j.Kind)
		})
	}
}

func TestTransition_OnlyValidPairsSucceed(t *testing.T) {
	j := New("SELECT 1")
	require.Equal(t, StatusPending, j.Status())

	assert.False(t, j.Transition(StatusProcessing, StatusComplete), "cannot jump from wrong current state")
	assert.True(t, j.Transition(StatusPending, StatusProcessing))
	assert.Equal(t, StatusProcessing, j.Status())

	assert.False(t, j.Transition(StatusPending, StatusProcessing), "already moved on")

	assert.True(t, j.Transition(StatusProcessing, StatusPending), "giveup path")
	assert.Equal(t, StatusPending, j.Status())

	assert.True(t, j.Transition(StatusPending, StatusProcessing))
	assert.True(t, j.Transition(StatusProcessing, StatusComplete))
	assert.Equal(t, StatusComplete, j.Status())
}

func TestTransition_CompleteNotifiesOnce(t *testing.T) {
	j := New("SELECT 1")
	require.True(t, j.Transition(StatusPending, StatusProcessing))
	require.True(t, j.Transition(StatusProcessing, StatusComplete))

	select {
	case <-j.Done():
	default:
		t.Fatal("completion notifier was not signaled")
	}

	// Exactly one byte: a second read without a second write must not be ready.
	select {
	case <-j.Done():
		t.Fatal("completion notifier signaled twice")
	default:
	}
}

func TestAssignationDelayAndProcessingTime(t *testing.T) {
	j := New("SELECT 1")
	assert.Equal(t, int32(0), j.AssignationDelayMs())
	assert.Equal(t, int32(0), j.ProcessingTimeMs())

	require.True(t, j.Transition(StatusPending, StatusProcessing))
	assert.GreaterOrEqual(t, j.AssignationDelayMs(), int32(0))

	require.True(t, j.Transition(StatusProcessing, StatusComplete))
	assert.GreaterOrEqual(t, j.ProcessingTimeMs(), int32(0))
}

func TestCompleteFromKeyValueMap(t *testing.T) {
	j := New("squale_local_stats")
	j.CompleteFromKeyValueMap(map[string]string{
		"nb_workers":  "1",
		"pending_jobs": "0",
	})

	require.Equal(t, StatusComplete, j.Status())
	result := j.Result()
	require.NotNil(t, result.Rows)
	assert.Equal(t, []string{"Name", "Value"}, result.Rows.Columns)
	assert.Len(t, result.Rows.Rows, 2)
	// sorted by key: nb_workers < pending_jobs
	assert.Equal(t, "nb_workers", string(result.Rows.Rows[0][0]))
	assert.Equal(t, "pending_jobs", string(result.Rows.Rows[1][0]))
}

func TestSetQuery_IdempotentUntilTransition(t *testing.T) {
	j := New("SELECT 1")
	j.SetQuery("squale_shutdown")
	assert.Equal(t, KindShutdown, j.Kind)

	require.True(t, j.Transition(StatusPending, StatusProcessing))
	j.SetQuery("SELECT 2")
	assert.Equal(t, "squale_shutdown", j.Query, "SetQuery after first transition must be a no-op")
}
