package internal_turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

func newTestArbiter(t *testing.T) *BoundaryArbiter {
	t.Helper()
	d := newTestDetector(t)
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return NewBoundaryArbiter(d, 800, 1, logger)
}

func TestArbiter_FinalThenSilence(t *testing.T) {
	b := newTestArbiter(t)

	assert.Nil(t, b.OnFinal("안녕하세요", 1.0))
	assert.True(t, b.HasPendingTurn())

	// Below threshold: nothing yet.
	assert.Nil(t, b.OnSilence(400, 1.5))

	res := b.OnSilence(800, 2.0)
	require.NotNil(t, res)
	assert.Equal(t, "안녕하세요", res.Transcript)
	assert.False(t, b.HasPendingTurn())
}

func TestArbiter_MultipleFinalsConcatenate(t *testing.T) {
	b := newTestArbiter(t)

	b.OnFinal("주문 내역을", 1.0)
	b.OnFinal("확인하고 싶습니다", 2.5)

	res := b.OnSilence(900, 3.5)
	require.NotNil(t, res)
	assert.Equal(t, "주문 내역을 확인하고 싶습니다", res.Transcript)
	// Duration measured from the first final.
	assert.InDelta(t, 2.5, res.Duration, 0.001)
}

func TestArbiter_SilenceBeforeFinal_GraceHit(t *testing.T) {
	b := newTestArbiter(t)

	// Silence crosses the threshold before any transcript exists.
	assert.Nil(t, b.OnSilence(900, 5.0))

	// Final arrives 0.5s later, inside the grace window: the turn closes
	// immediately with the silence that triggered the wait.
	res := b.OnFinal("감사합니다", 5.5)
	require.NotNil(t, res)
	assert.Equal(t, "감사합니다", res.Transcript)
	assert.Equal(t, 0.85, res.SilenceScore) // 900ms band
}

func TestArbiter_SilenceBeforeFinal_GraceMissed(t *testing.T) {
	b := newTestArbiter(t)

	assert.Nil(t, b.OnSilence(900, 5.0))

	// Final arrives after the 1s grace: starts a fresh utterance.
	assert.Nil(t, b.OnFinal("여보세요", 6.5))
	assert.True(t, b.HasPendingTurn())

	res := b.OnSilence(800, 7.5)
	require.NotNil(t, res)
	assert.Equal(t, "여보세요", res.Transcript)
}

func TestArbiter_ShortTranscriptSuppressed(t *testing.T) {
	d := newTestDetector(t)
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	b := NewBoundaryArbiter(d, 800, 3, logger)

	b.OnFinal("네", 1.0)
	res := b.OnSilence(900, 2.0)
	assert.Nil(t, res)
	// Suppression resets the accumulator entirely.
	assert.False(t, b.HasPendingTurn())
}

func TestArbiter_WhitespaceOnlySuppressed(t *testing.T) {
	b := newTestArbiter(t)
	b.OnFinal("   ", 1.0)
	assert.Nil(t, b.OnSilence(900, 2.0))
	assert.False(t, b.HasPendingTurn())
}

func TestArbiter_ResetClearsState(t *testing.T) {
	b := newTestArbiter(t)
	b.OnFinal("안녕하세요", 1.0)
	b.Reset()
	assert.False(t, b.HasPendingTurn())
	assert.Equal(t, "", b.PendingTranscript())
}
