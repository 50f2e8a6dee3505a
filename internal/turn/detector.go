// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_turn

import (
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
	"github.com/rapidaai/aicc-pipeline/pkg/utils"
)

// Decision is the outcome of turn evaluation.
type Decision string

const (
	DecisionComplete   Decision = "complete"
	DecisionIncomplete Decision = "incomplete"
)

// Result carries the decision plus every contributing score, all rounded to
// three decimals for the wire.
type Result struct {
	Decision      Decision
	FusionScore   float64
	MorphemeScore float64
	DurationScore float64
	SilenceScore  float64
	Transcript    string
	Duration      float64
}

// Weights tune the fusion. They should sum to 1.
type Weights struct {
	Morpheme float64
	Duration float64
	Silence  float64
}

// DefaultWeights favor morphology: Korean sentence enders are the strongest
// completion signal available from a transcript.
var DefaultWeights = Weights{Morpheme: 0.6, Duration: 0.2, Silence: 0.2}

// DefaultCompleteThreshold is the fusion score at or above which a turn is
// judged complete.
const DefaultCompleteThreshold = 0.65

// Detector fuses morpheme, duration, and silence evidence into a single
// complete/incomplete decision.
type Detector struct {
	weights           Weights
	completeThreshold float64
	analyzer          *MorphemeAnalyzer
}

// NewDetector builds a detector. tagger may be nil.
func NewDetector(weights Weights, completeThreshold float64, tagger Tagger, logger commons.Logger) *Detector {
	if completeThreshold <= 0 {
		completeThreshold = DefaultCompleteThreshold
	}
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if total := weights.Morpheme + weights.Duration + weights.Silence; total < 0.99 || total > 1.01 {
		logger.Warnw("turn: fusion weights do not sum to 1", "total", total)
	}
	return &Detector{
		weights:           weights,
		completeThreshold: completeThreshold,
		analyzer:          NewMorphemeAnalyzer(tagger),
	}
}

// durationScore maps speech length onto completion likelihood: very short
// fragments and long run-ons both argue against a finished sentence, the
// 0.5-2 s sweet spot argues for one. Both linear segments include their
// left boundary; 5.0 s still belongs to the descending segment.
func durationScore(durationSec float64) float64 {
	switch {
	case durationSec < 0.5:
		return 0.3
	case durationSec < 2.0:
		return 0.5 + (durationSec-0.5)*(0.2/1.5)
	case durationSec <= 5.0:
		return 0.7 - (durationSec-2.0)*(0.2/3.0)
	default:
		return 0.4
	}
}

// silenceScore: the longer the speaker stays quiet after the utterance, the
// more likely they are done.
func silenceScore(silenceMs float64) float64 {
	switch {
	case silenceMs < 200:
		return 0.3
	case silenceMs <= 400:
		return 0.5
	case silenceMs < 800:
		return 0.7
	default:
		return 0.85
	}
}

// Evaluate scores a finished utterance. silenceMs is the trailing silence
// that closed it.
func (d *Detector) Evaluate(transcript string, durationSec float64, silenceMs float64) Result {
	morpheme := d.analyzer.Analyze(transcript)
	duration := durationScore(durationSec)
	silence := silenceScore(silenceMs)

	fusion := d.weights.Morpheme*morpheme +
		d.weights.Duration*duration +
		d.weights.Silence*silence

	var decision Decision
	// A long utterance ending on a connective is mid-sentence no matter
	// what the fused score says.
	if durationSec > 5.0 && morpheme < 0.4 {
		decision = DecisionIncomplete
	} else if fusion >= d.completeThreshold {
		decision = DecisionComplete
	} else {
		decision = DecisionIncomplete
	}

	return Result{
		Decision:      decision,
		FusionScore:   utils.Round3(fusion),
		MorphemeScore: utils.Round3(morpheme),
		DurationScore: utils.Round3(duration),
		SilenceScore:  utils.Round3(silence),
		Transcript:    transcript,
		Duration:      utils.Round3(durationSec),
	}
}
