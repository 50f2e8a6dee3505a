package internal_vad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

// toneFrame synthesizes a low-frequency sine of the given amplitude, which
// has low zero-crossing rate like voiced speech.
func toneFrame(amplitude float64) []int16 {
	frame := make([]int16, FrameSize)
	for i := range frame {
		frame[i] = int16(amplitude * math.Sin(2*math.Pi*100*float64(i)/16000))
	}
	return frame
}

// noiseFrame alternates sign every sample: maximal ZCR, moderate energy.
func noiseFrame(amplitude int16) []int16 {
	frame := make([]int16, FrameSize)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestEnergyDetector_SilenceIsNotSpeech(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	frame, err := d.Classify(make([]int16, FrameSize))
	require.NoError(t, err)
	assert.False(t, frame.IsSpeech)
	assert.Equal(t, 0.0, frame.RMS)
}

func TestEnergyDetector_LoudToneIsSpeech(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	frame, err := d.Classify(toneFrame(3000))
	require.NoError(t, err)
	assert.True(t, frame.IsSpeech)
	assert.Greater(t, frame.Confidence, 0.0)
}

func TestEnergyDetector_ZCRVetoesModerateNoise(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	// RMS just above threshold (225) but below 1.5x, with maximal ZCR.
	frame, err := d.Classify(noiseFrame(250))
	require.NoError(t, err)
	assert.Greater(t, frame.RMS, 225.0)
	assert.Greater(t, frame.ZCR, 0.1)
	assert.False(t, frame.IsSpeech)
}

func TestEnergyDetector_LoudNoiseBeatsVeto(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	// RMS far above 1.5x threshold: the veto no longer applies.
	frame, err := d.Classify(noiseFrame(2000))
	require.NoError(t, err)
	assert.True(t, frame.IsSpeech)
}

func TestEnergyDetector_ConfidenceSmoothing(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))

	loud, err := d.Classify(toneFrame(8000))
	require.NoError(t, err)
	// A silent frame right after a loud one keeps residual confidence
	// from the smoothing window.
	quiet, err := d.Classify(make([]int16, FrameSize))
	require.NoError(t, err)
	assert.Greater(t, quiet.Confidence, 0.0)
	assert.Less(t, quiet.Confidence, loud.Confidence)
}

func TestEnergyDetector_AdaptiveSilence(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	tests := []struct {
		name     string
		duration float64
		want     int
	}{
		{"very short utterance", 0.3, 200},
		{"short utterance", 1.0, 300},
		{"boundary at two seconds", 2.0, 400},
		{"long utterance", 6.0, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.AdaptiveSilenceMs(tt.duration))
		})
	}
}

func TestEnergyDetector_ResetClearsSmoothing(t *testing.T) {
	d := NewEnergyDetector(Config{Threshold: 0.45}, testLogger(t))
	_, err := d.Classify(toneFrame(8000))
	require.NoError(t, err)
	d.Reset()
	frame, err := d.Classify(make([]int16, FrameSize))
	require.NoError(t, err)
	assert.Equal(t, 0.0, frame.Confidence)
}

func TestNew_FallsBackWithoutModel(t *testing.T) {
	d := New(Config{Threshold: 0.45}, testLogger(t))
	assert.IsType(t, &EnergyDetector{}, d)
	assert.Equal(t, FrameSize, d.WindowSize())
}

func TestNew_FallsBackOnBadModelPath(t *testing.T) {
	d := New(Config{ModelPath: "/nonexistent/model.onnx", Threshold: 0.45}, testLogger(t))
	assert.IsType(t, &EnergyDetector{}, d)
}
