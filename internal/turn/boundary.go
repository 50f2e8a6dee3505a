// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_turn

import (
	"strings"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// finalGraceSec is how long after a silence trigger a late STT final may
// still close the turn it belongs to. Finals arriving later start a new
// utterance instead.
const finalGraceSec = 1.0

// BoundaryArbiter closes turns in streaming STT mode, where the silence
// signal (VAD) and the transcript signal (STT finals) race each other. It
// accumulates finals until silence crosses the threshold, and when silence
// wins the race it waits a short grace period for the transcript to catch
// up. The STT session itself is never stopped at a boundary.
//
// Not safe for concurrent use; each speaker owns one and drives it from its
// audio path.
type BoundaryArbiter struct {
	detector *Detector
	logger   commons.Logger

	minSilenceMs float64
	minChars     int

	pendingTranscript string
	lastFinalTime     float64
	hasFinal          bool
	speechStartTime   float64
	hasSpeechStart    bool

	waitingForFinal  bool
	silenceTriggerAt float64
	pendingSilenceMs float64
}

func NewBoundaryArbiter(detector *Detector, minSilenceMs float64, minChars int, logger commons.Logger) *BoundaryArbiter {
	if minChars < 1 {
		minChars = 1
	}
	return &BoundaryArbiter{
		detector:     detector,
		logger:       logger,
		minSilenceMs: minSilenceMs,
		minChars:     minChars,
	}
}

// OnFinal feeds a final STT transcript. currentTime is the stream clock in
// seconds. Returns a closed turn when this final resolves a silence that
// fired first.
func (b *BoundaryArbiter) OnFinal(transcript string, currentTime float64) *Result {
	if b.pendingTranscript != "" {
		b.pendingTranscript += " " + transcript
	} else {
		b.pendingTranscript = transcript
		if !b.hasSpeechStart {
			b.speechStartTime = currentTime
			b.hasSpeechStart = true
		}
	}
	b.lastFinalTime = currentTime
	b.hasFinal = true

	if b.waitingForFinal {
		elapsed := currentTime - b.silenceTriggerAt
		b.waitingForFinal = false
		if elapsed < finalGraceSec {
			b.logger.Debugw("turn: late final within grace, closing deferred turn",
				"elapsed_sec", elapsed)
			return b.close(currentTime, b.pendingSilenceMs)
		}
		// Too late: the silence belonged to a turn that produced no
		// transcript; this final starts a fresh utterance.
		b.pendingSilenceMs = 0
	}
	return nil
}

// OnSilence feeds the accumulated trailing silence observed by VAD. Returns
// a closed turn once silence crosses the configured threshold and a
// transcript exists.
func (b *BoundaryArbiter) OnSilence(silenceMs float64, currentTime float64) *Result {
	if silenceMs < b.minSilenceMs {
		return nil
	}

	if !b.hasFinal {
		if !b.waitingForFinal {
			b.waitingForFinal = true
			b.silenceTriggerAt = currentTime
			b.pendingSilenceMs = silenceMs
			b.logger.Debugw("turn: silence before transcript, waiting for final",
				"silence_ms", silenceMs)
		}
		return nil
	}
	return b.close(currentTime, silenceMs)
}

func (b *BoundaryArbiter) close(currentTime, silenceMs float64) *Result {
	stripped := strings.TrimSpace(b.pendingTranscript)
	if len([]rune(stripped)) < b.minChars {
		b.logger.Debugw("turn: transcript below minimum, dropping", "chars", len([]rune(stripped)))
		b.Reset()
		return nil
	}

	duration := 0.0
	if b.hasSpeechStart {
		duration = currentTime - b.speechStartTime
	}
	result := b.detector.Evaluate(stripped, duration, silenceMs)
	b.logger.Infow("turn boundary detected",
		"decision", result.Decision,
		"fusion_score", result.FusionScore,
		"duration_sec", result.Duration,
		"silence_ms", silenceMs)

	b.Reset()
	return &result
}

// HasPendingTurn reports whether finals have accumulated without a boundary.
func (b *BoundaryArbiter) HasPendingTurn() bool {
	return b.hasFinal && strings.TrimSpace(b.pendingTranscript) != ""
}

// PendingTranscript returns the accumulated transcript so far.
func (b *BoundaryArbiter) PendingTranscript() string {
	return strings.TrimSpace(b.pendingTranscript)
}

// Reset clears all utterance state.
func (b *BoundaryArbiter) Reset() {
	b.pendingTranscript = ""
	b.hasFinal = false
	b.hasSpeechStart = false
	b.lastFinalTime = 0
	b.speechStartTime = 0
	b.waitingForFinal = false
	b.silenceTriggerAt = 0
	b.pendingSilenceMs = 0
}
