// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_turn decides whether a transcribed Korean utterance is a
// complete conversational turn. Sentence-final morphology is the dominant
// signal; speech duration and trailing silence refine it.
package internal_turn

import (
	"regexp"
	"strings"
)

// Final-ending patterns. A match means the utterance ends a sentence:
// formal/informal declaratives, question forms, requests, short
// confirmations, past-tense enders.
var endingPatterns = compileAll([]string{
	// Formal declarative
	`습니다$`, `입니다$`, `합니다$`, `됩니다$`,
	// Informal declarative
	`예요$`, `에요$`, `이에요$`, `네요$`, `군요$`,
	`거든요$`, `잖아요$`, `는데요$`,
	// Questions
	`나요\?*$`, `까요\?*$`, `세요\?*$`, `어요\?*$`,
	`습니까\?*$`, `입니까\?*$`,
	// Requests
	`하세요$`, `주세요$`, `해주세요$`, `드릴게요$`,
	// Short responses
	`^네$`, `^예$`, `^아니요$`, `^아니오$`,
	`^알겠습니다$`, `^감사합니다$`, `^네네$`, `^아$`,
	// Past tense
	`었어요$`, `았어요$`, `였어요$`,
	`었습니다$`, `았습니다$`, `였습니다$`,
})

// Connective endings and fillers. A match means the speaker is mid-sentence.
var continuingPatterns = compileAll([]string{
	`는데$`, `인데$`, `은데$`,
	`고$`, `고요$`,
	`며$`, `서$`, `니까$`, `면$`,
	`지만$`, `라서$`, `해서$`,
	// Hesitation
	`어\.\.\.$`, `음\.\.\.$`, `그\.\.\.$`,
	// Discourse connectives
	`근데$`, `그래서$`, `그런데$`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Morpheme is a tagged token produced by a morphological Tagger.
type Morpheme struct {
	Form string
	Tag  string
}

// Tagger is an optional part-of-speech back-end consulted when neither
// pattern list matches. Implementations return tokens in sentence order
// using Sejong-style tags (EF, EC, SF, NNG, ...).
type Tagger interface {
	Tag(text string) ([]Morpheme, error)
}

// MorphemeAnalyzer scores how strongly a Korean utterance looks finished.
type MorphemeAnalyzer struct {
	tagger Tagger
}

// NewMorphemeAnalyzer builds an analyzer. tagger may be nil; the regexp
// rules then carry the whole decision.
func NewMorphemeAnalyzer(tagger Tagger) *MorphemeAnalyzer {
	return &MorphemeAnalyzer{tagger: tagger}
}

// Analyze returns a completion score in [0, 1]:
// above 0.8 confidently complete, below 0.5 likely incomplete.
// Pure with respect to its input.
func (a *MorphemeAnalyzer) Analyze(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0.5
	}

	for _, re := range endingPatterns {
		if re.MatchString(text) {
			return 0.95
		}
	}
	for _, re := range continuingPatterns {
		if re.MatchString(text) {
			return 0.2
		}
	}

	if a.tagger != nil {
		if score, ok := a.analyzeTagged(text); ok {
			return score
		}
	}
	return 0.5
}

func (a *MorphemeAnalyzer) analyzeTagged(text string) (float64, bool) {
	tokens, err := a.tagger.Tag(text)
	if err != nil || len(tokens) == 0 {
		return 0, false
	}

	last := tokens[len(tokens)-1]
	switch last.Tag {
	case "EF":
		return 0.85, true
	case "EC":
		return 0.3, true
	case "SF":
		if len(tokens) >= 2 {
			switch tokens[len(tokens)-2].Tag {
			case "EF":
				return 0.9, true
			case "EC":
				return 0.35, true
			}
		}
	case "NNG", "NNP", "NP":
		return 0.4, true
	case "VV", "VA", "VX":
		return 0.3, true
	}
	return 0.5, true
}
