package chess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMove_FirstMoveStartsCount(t *testing.T) {
	timer := NewTimerState(TimeControl{Initial: 600, Increment: 5})
	now := time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)

	expired := timer.ApplyMove(White, 5, now)

	assert.Nil(t, expired)
	assert.Equal(t, int64(600), timer.WhiteTime)
	assert.Equal(t, int64(600), timer.BlackTime)
	require.NotNil(t, timer.LastMoveTime)
	assert.Equal(t, now, *timer.LastMoveTime)
}

func TestApplyMove_DebitsMoverAndCreditsIncrement(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 600, Increment: 5})
	timer.ApplyMove(White, 5, start)

	timer.ApplyMove(Black, 5, start.Add(12*time.Second+900*time.Millisecond))

	assert.Equal(t, int64(600), timer.WhiteTime)
	assert.Equal(t, int64(600-12+5), timer.BlackTime)
}

func TestApplyMove_ExpiredClockClampsToZero(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 600})
	timer.BlackTime = 1
	timer.ApplyMove(White, 0, start)

	expired := timer.ApplyMove(Black, 0, start.Add(2*time.Second))

	require.NotNil(t, expired)
	assert.Equal(t, Black, *expired)
	assert.Equal(t, int64(0), timer.BlackTime)
}

func TestApplyMove_IncrementKeepsClockAlive(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 600, Increment: 5})
	timer.BlackTime = 3
	timer.ApplyMove(White, 5, start)

	expired := timer.ApplyMove(Black, 5, start.Add(5*time.Second))

	assert.Nil(t, expired)
	assert.Equal(t, int64(3), timer.BlackTime)
}

func TestApplyMove_IncrementCannotRescueLongOverrun(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 600, Increment: 5})
	timer.BlackTime = 3
	timer.ApplyMove(White, 5, start)

	expired := timer.ApplyMove(Black, 5, start.Add(9*time.Second))

	require.NotNil(t, expired)
	assert.Equal(t, Black, *expired)
	assert.Equal(t, int64(0), timer.BlackTime)
}

func TestApplyMove_StoppedTimerIsFrozen(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 60})
	timer.ApplyMove(White, 0, start)
	timer.Stop()

	assert.Nil(t, timer.ApplyMove(Black, 0, start.Add(time.Hour)))
	assert.Equal(t, int64(60), timer.BlackTime)
}

func TestRemaining(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := NewTimerState(TimeControl{Initial: 30})
	timer.ApplyMove(White, 0, start)

	now := start.Add(45 * time.Second)
	assert.Equal(t, int64(0), timer.Remaining(Black, Black, now))
	assert.Equal(t, int64(30), timer.Remaining(White, Black, now))
	assert.Equal(t, int64(20), timer.Remaining(Black, Black, start.Add(10*time.Second)))
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	timer := NewTimerState(TimeControl{Initial: 30})
	timer.ApplyMove(White, 0, now)

	c := timer.Clone()
	c.WhiteTime = 1
	*c.LastMoveTime = now.Add(time.Hour)

	assert.Equal(t, int64(30), timer.WhiteTime)
	assert.Equal(t, now, *timer.LastMoveTime)
}

func TestFormatClockTime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{-5, "0:00"},
		{9, "0:09"},
		{90, "1:30"},
		{600, "10:00"},
		{3725, "1:02:05"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClockTime(tt.seconds))
	}
}

func TestColorOpp(t *testing.T) {
	assert.Equal(t, Black, White.Opp())
	assert.Equal(t, White, Black.Opp())
	assert.True(t, White.Valid())
	assert.False(t, Color("w").Valid())
}
