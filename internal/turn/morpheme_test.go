package internal_turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubTagger struct {
	tokens []Morpheme
	err    error
}

func (s *stubTagger) Tag(string) ([]Morpheme, error) { return s.tokens, s.err }

func TestMorphemeAnalyzer_EndingPatterns(t *testing.T) {
	a := NewMorphemeAnalyzer(nil)
	tests := []struct {
		name string
		text string
	}{
		{"formal declarative", "확인해 보겠습니다"},
		{"copula", "고객님 전화번호입니다"},
		{"informal polite", "그게 좋네요"},
		{"question", "더 필요하신 게 있으실까요?"},
		{"request", "잠시만 기다려 주세요"},
		{"short yes", "네"},
		{"thanks", "감사합니다"},
		{"past tense", "말씀드렸습니다"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.95, a.Analyze(tt.text))
		})
	}
}

func TestMorphemeAnalyzer_ContinuingPatterns(t *testing.T) {
	a := NewMorphemeAnalyzer(nil)
	tests := []struct {
		name string
		text string
	}{
		{"connective go", "주소를 확인하고"},
		{"neunde", "어제 전화를 했는데"},
		{"discourse geuraeseo", "그래서"},
		{"geunde", "근데"},
		{"conditional", "만약 취소하시면"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.2, a.Analyze(tt.text))
		})
	}
}

func TestMorphemeAnalyzer_EndingWinsOverContinuing(t *testing.T) {
	// Ordered rule check: the ENDING list is consulted before CONTINUING,
	// so a sentence ender containing a connective substring still scores 0.95.
	a := NewMorphemeAnalyzer(nil)
	assert.Equal(t, 0.95, a.Analyze("괜찮은데요"))
}

func TestMorphemeAnalyzer_EmptyInput(t *testing.T) {
	a := NewMorphemeAnalyzer(nil)
	assert.Equal(t, 0.5, a.Analyze(""))
	assert.Equal(t, 0.5, a.Analyze("   "))
}

func TestMorphemeAnalyzer_DefaultWithoutTagger(t *testing.T) {
	a := NewMorphemeAnalyzer(nil)
	// No pattern matches, no tagger: neutral.
	assert.Equal(t, 0.5, a.Analyze("전화번호"))
}

func TestMorphemeAnalyzer_Pure(t *testing.T) {
	a := NewMorphemeAnalyzer(nil)
	in := "확인해 보겠습니다"
	assert.Equal(t, a.Analyze(in), a.Analyze(in))
}

func TestMorphemeAnalyzer_TaggerScores(t *testing.T) {
	tests := []struct {
		name   string
		tokens []Morpheme
		want   float64
	}{
		{"final ending", []Morpheme{{Form: "가", Tag: "EF"}}, 0.85},
		{"connective ending", []Morpheme{{Form: "고", Tag: "EC"}}, 0.3},
		{"punctuation after EF", []Morpheme{{Form: "다", Tag: "EF"}, {Form: ".", Tag: "SF"}}, 0.9},
		{"punctuation after EC", []Morpheme{{Form: "고", Tag: "EC"}, {Form: ".", Tag: "SF"}}, 0.35},
		{"terminal common noun", []Morpheme{{Form: "번호", Tag: "NNG"}}, 0.4},
		{"terminal proper noun", []Morpheme{{Form: "서울", Tag: "NNP"}}, 0.4},
		{"bare verb", []Morpheme{{Form: "가", Tag: "VV"}}, 0.3},
		{"unknown tag", []Morpheme{{Form: "?", Tag: "XX"}}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewMorphemeAnalyzer(&stubTagger{tokens: tt.tokens})
			assert.Equal(t, tt.want, a.Analyze("뀗뀗뀗"))
		})
	}
}

func TestMorphemeAnalyzer_TaggerFailureFallsBack(t *testing.T) {
	a := NewMorphemeAnalyzer(&stubTagger{err: assert.AnError})
	assert.Equal(t, 0.5, a.Analyze("뀗뀗뀗"))
}
