// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	internal_audio "github.com/rapidaai/aicc-pipeline/internal/audio"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// NeuralDetector wraps the silero ONNX voice-activity model. The model keeps
// internal recurrent state, so frames must arrive in stream order.
type NeuralDetector struct {
	logger   commons.Logger
	detector *speech.Detector
	energy   *EnergyDetector // supplies RMS/ZCR diagnostics and adaptive silence
}

func NewNeuralDetector(cfg Config, logger commons.Logger) (*NeuralDetector, error) {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.45
	}
	minSilence := cfg.MinSilenceMs
	if minSilence <= 0 {
		minSilence = 100
	}
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           internal_audio.PipelineSampleRate,
		WindowSize:           FrameSize,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: minSilence,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: load silero model: %w", err)
	}
	return &NeuralDetector{
		logger:   logger,
		detector: sd,
		energy:   NewEnergyDetector(cfg, logger),
	}, nil
}

func (d *NeuralDetector) WindowSize() int { return FrameSize }

func (d *NeuralDetector) Classify(frame []int16) (Frame, error) {
	segments, err := d.detector.Detect(internal_audio.PCM16ToFloat32(frame))
	if err != nil {
		return Frame{}, fmt.Errorf("vad: detect: %w", err)
	}

	rms := internal_audio.RMS(frame)
	zcr := internal_audio.ZeroCrossingRate(frame)
	if len(segments) == 0 {
		return Frame{IsSpeech: false, Confidence: 0, RMS: rms, ZCR: zcr}, nil
	}
	return Frame{IsSpeech: true, Confidence: 1, RMS: rms, ZCR: zcr}, nil
}

func (d *NeuralDetector) AdaptiveSilenceMs(speechDurationSec float64) int {
	return d.energy.AdaptiveSilenceMs(speechDurationSec)
}

func (d *NeuralDetector) Reset() {
	if err := d.detector.Reset(); err != nil {
		d.logger.Warnw("vad: silero reset failed", "error", err)
	}
	d.energy.Reset()
}

func (d *NeuralDetector) Close() error {
	return d.detector.Destroy()
}
