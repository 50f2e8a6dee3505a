// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_vad classifies fixed-size 16 kHz PCM frames as speech or
// non-speech. Two back-ends share one interface: a neural detector backed by
// an ONNX model and an adaptive-energy detector used when no model is
// configured or the model fails to load.
package internal_vad

import (
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// FrameSize is the number of 16 kHz samples both back-ends consume per
// classification. 512 samples = 32 ms.
const FrameSize = 512

// Frame is the classification of one audio window.
type Frame struct {
	IsSpeech   bool
	Confidence float64
	RMS        float64
	ZCR        float64
}

// Detector classifies consecutive PCM frames of WindowSize samples.
// Implementations are not safe for concurrent use; each speaker owns one.
type Detector interface {
	Classify(frame []int16) (Frame, error)
	WindowSize() int
	// AdaptiveSilenceMs returns how much trailing silence closes an
	// utterance of the given length. Short utterances close fast.
	AdaptiveSilenceMs(speechDurationSec float64) int
	Reset()
	Close() error
}

// Config selects and tunes a back-end.
type Config struct {
	// ModelPath points at a silero ONNX model. Empty selects the
	// adaptive-energy back-end.
	ModelPath string
	// Threshold is the back-end-neutral sensitivity in [0, 1].
	Threshold float64
	// MinSilenceMs and SpeechPadMs tune the neural back-end only.
	MinSilenceMs int
	SpeechPadMs  int
}

// New returns the neural detector when a model is configured and loads,
// falling back to adaptive-energy otherwise.
func New(cfg Config, logger commons.Logger) Detector {
	if cfg.ModelPath != "" {
		d, err := NewNeuralDetector(cfg, logger)
		if err == nil {
			logger.Infow("vad: neural detector loaded", "model", cfg.ModelPath)
			return d
		}
		logger.Warnw("vad: neural detector unavailable, using adaptive energy",
			"model", cfg.ModelPath, "error", err)
	}
	return NewEnergyDetector(cfg, logger)
}
