// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_vad

import (
	internal_audio "github.com/rapidaai/aicc-pipeline/internal/audio"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
	"github.com/rapidaai/aicc-pipeline/pkg/utils"
)

const (
	// energyScale maps the back-end-neutral threshold in [0,1] onto RMS
	// amplitude so both back-ends react comparably to the same config.
	energyScale = 500.0
	// zcrVeto marks high-frequency noise: frames crossing zero this often
	// at moderate energy are clicks or line hiss, not voiced speech.
	zcrVeto = 0.1

	smoothingWindows = 3
)

// EnergyDetector is the dependency-free fallback back-end. RMS carries the
// speech vote, zero-crossing rate vetoes noisy frames, and confidence is
// smoothed over the last three windows.
type EnergyDetector struct {
	logger          commons.Logger
	energyThreshold float64
	recent          []float64
}

func NewEnergyDetector(cfg Config, logger commons.Logger) *EnergyDetector {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.45
	}
	return &EnergyDetector{
		logger:          logger,
		energyThreshold: energyScale * threshold,
	}
}

func (d *EnergyDetector) WindowSize() int { return FrameSize }

func (d *EnergyDetector) Classify(frame []int16) (Frame, error) {
	rms := internal_audio.RMS(frame)
	zcr := internal_audio.ZeroCrossingRate(frame)

	isSpeech := rms > d.energyThreshold
	if zcr > zcrVeto && rms < 1.5*d.energyThreshold {
		isSpeech = false
	}

	confidence := utils.Clamp01((rms - 0.5*d.energyThreshold) / d.energyThreshold)
	if zcr > zcrVeto {
		reduction := 1.0 - zcr
		if reduction < 0.5 {
			reduction = 0.5
		}
		confidence *= reduction
	}

	d.recent = append(d.recent, confidence)
	if len(d.recent) > smoothingWindows {
		d.recent = d.recent[len(d.recent)-smoothingWindows:]
	}
	var sum float64
	for _, c := range d.recent {
		sum += c
	}
	smoothed := sum / float64(len(d.recent))

	return Frame{IsSpeech: isSpeech, Confidence: smoothed, RMS: rms, ZCR: zcr}, nil
}

func (d *EnergyDetector) AdaptiveSilenceMs(speechDurationSec float64) int {
	switch {
	case speechDurationSec < 0.5:
		return 200
	case speechDurationSec < 2.0:
		return 300
	default:
		return 400
	}
}

func (d *EnergyDetector) Reset() { d.recent = nil }

func (d *EnergyDetector) Close() error { return nil }
