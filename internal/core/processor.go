// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_core

import (
	"context"
	"strings"
	"sync"

	internal_audio "github.com/rapidaai/aicc-pipeline/internal/audio"
	internal_turn "github.com/rapidaai/aicc-pipeline/internal/turn"
	internal_vad "github.com/rapidaai/aicc-pipeline/internal/vad"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
	"github.com/rapidaai/aicc-pipeline/pkg/utils"
)

// STTMode selects how a speaker's audio reaches recognition.
type STTMode string

const (
	// ModeBatch buffers each utterance and transcribes it in one RPC when
	// the turn closes.
	ModeBatch STTMode = "batch"
	// ModeStreaming feeds a continuous recognition stream and arbitrates
	// turn boundaries between VAD silence and STT finals.
	ModeStreaming STTMode = "streaming"
)

// BatchBackend is the per-utterance surface of the batch transcriber.
type BatchBackend interface {
	AddAudio(pcm []byte)
	Transcribe(ctx context.Context) string
	Clear()
}

// StreamBackend is the audio surface of the continuous streaming session.
type StreamBackend interface {
	Feed(pcm []byte)
}

// TurnOutcome is one closed turn, ready for event fan-out.
type TurnOutcome struct {
	CallID    string
	Speaker   Speaker
	Result    internal_turn.Result
	StartTime float64
	EndTime   float64
}

// ProcessorStats snapshots one speaker's turn accounting.
type ProcessorStats struct {
	Turns           int
	CompleteTurns   int
	IncompleteTurns int
	Suppressed      int
	TotalSpeechSec  float64
}

// ProcessorConfig tunes one speaker's state machine.
type ProcessorConfig struct {
	CallID  string
	Speaker Speaker
	Mode    STTMode
	// MinSpeechMs discards utterances shorter than this in batch mode.
	MinSpeechMs int
	// MinSilenceMs is the batch-mode finalize floor: an utterance never
	// closes on less trailing silence than this.
	MinSilenceMs int
	// TurnMinSilenceMs is the streaming-mode boundary threshold fed to
	// the arbiter.
	TurnMinSilenceMs int
	// MinChars suppresses transcripts below this rune count.
	MinChars int
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Mode == "" {
		c.Mode = ModeBatch
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = 300
	}
	if c.MinSilenceMs <= 0 {
		c.MinSilenceMs = 800
	}
	if c.TurnMinSilenceMs <= 0 {
		c.TurnMinSilenceMs = 800
	}
	if c.MinChars <= 0 {
		c.MinChars = 1
	}
	return c
}

// SpeakerProcessor consumes one speaker's 16 kHz PCM, windows it through
// VAD, routes speech to STT, and emits a TurnOutcome at every boundary.
//
// ProcessAudio runs on the receiver goroutine; HandleSTTResult runs on the
// recognition goroutine; Stop may race both. One mutex covers the state.
type SpeakerProcessor struct {
	logger commons.Logger
	cfg    ProcessorConfig

	vad     internal_vad.Detector
	turns   *internal_turn.Detector
	arbiter *internal_turn.BoundaryArbiter
	batch   BatchBackend
	stream  StreamBackend
	onTurn  func(TurnOutcome)

	mu            sync.Mutex
	pending       []int16
	currentTime   float64
	speaking      bool
	speechStart   float64
	silenceFrames int
	stopped       bool

	stats ProcessorStats
}

// NewSpeakerProcessor wires one speaker. In batch mode batch must be set;
// in streaming mode stream must be set.
func NewSpeakerProcessor(cfg ProcessorConfig, vad internal_vad.Detector, turns *internal_turn.Detector,
	batch BatchBackend, stream StreamBackend, onTurn func(TurnOutcome), logger commons.Logger) *SpeakerProcessor {
	cfg = cfg.withDefaults()
	p := &SpeakerProcessor{
		logger: logger,
		cfg:    cfg,
		vad:    vad,
		turns:  turns,
		batch:  batch,
		stream: stream,
		onTurn: onTurn,
	}
	if cfg.Mode == ModeStreaming {
		p.arbiter = internal_turn.NewBoundaryArbiter(turns, float64(cfg.TurnMinSilenceMs), cfg.MinChars, logger)
	}
	return p
}

// ProcessAudio ingests decoded PCM, classifying one VAD window at a time.
// Partial windows stay pending until the next packet completes them.
func (p *SpeakerProcessor) ProcessAudio(pcm []int16) {
	var outcomes []TurnOutcome

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, pcm...)
	win := p.vad.WindowSize()
	for len(p.pending) >= win {
		frame := p.pending[:win]
		p.pending = p.pending[win:]
		if outcome := p.processWindow(frame); outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	p.mu.Unlock()

	for _, o := range outcomes {
		p.emit(o)
	}
}

// processWindow advances the clock one window and runs the speech/silence
// state machine. Caller holds p.mu.
func (p *SpeakerProcessor) processWindow(frame []int16) *TurnOutcome {
	windowSec := float64(len(frame)) / float64(internal_audio.PipelineSampleRate)
	p.currentTime += windowSec

	cls, err := p.vad.Classify(frame)
	if err != nil {
		p.logger.Warnw("vad classification failed",
			"call_id", p.cfg.CallID, "speaker", p.cfg.Speaker, "error", err)
		return nil
	}

	if cls.IsSpeech {
		if !p.speaking {
			p.speaking = true
			p.speechStart = p.currentTime - windowSec
			p.logger.Debugw("speech started",
				"call_id", p.cfg.CallID, "speaker", p.cfg.Speaker, "at_sec", utils.Round3(p.speechStart))
		}
		p.silenceFrames = 0
		p.feedSTT(frame)
		return nil
	}

	if !p.speaking {
		return nil
	}
	p.silenceFrames++
	silenceMs := float64(p.silenceFrames) * windowSec * 1000

	if p.cfg.Mode == ModeStreaming {
		if result := p.arbiter.OnSilence(silenceMs, p.currentTime); result != nil {
			p.speaking = false
			p.silenceFrames = 0
			return p.outcomeLocked(*result, silenceMs)
		}
		return nil
	}

	// The configured floor governs; the adaptive value only ever raises it
	// for long utterances, never closes a turn earlier than configured.
	threshold := p.cfg.MinSilenceMs
	speechDur := p.currentTime - float64(p.silenceFrames)*windowSec - p.speechStart
	if adaptive := p.vad.AdaptiveSilenceMs(speechDur); adaptive > threshold {
		threshold = adaptive
	}
	if int(silenceMs) >= threshold {
		return p.finalizeBatchLocked(context.Background(), silenceMs, windowSec)
	}
	return nil
}

func (p *SpeakerProcessor) feedSTT(frame []int16) {
	raw := internal_audio.PCM16ToBytes(frame)
	switch p.cfg.Mode {
	case ModeStreaming:
		if p.stream != nil {
			p.stream.Feed(raw)
		}
	default:
		if p.batch != nil {
			p.batch.AddAudio(raw)
		}
	}
}

// finalizeBatchLocked closes the utterance in batch mode: state is reset
// before the blocking recognition call so late packets start a fresh
// utterance cleanly. Caller holds p.mu.
func (p *SpeakerProcessor) finalizeBatchLocked(ctx context.Context, silenceMs, windowSec float64) *TurnOutcome {
	silenceSec := float64(p.silenceFrames) * windowSec
	endTime := p.currentTime - silenceSec
	startTime := p.speechStart
	duration := endTime - startTime

	p.speaking = false
	p.silenceFrames = 0

	if duration < float64(p.cfg.MinSpeechMs)/1000 {
		p.logger.Debugw("utterance too short, discarding",
			"call_id", p.cfg.CallID, "speaker", p.cfg.Speaker, "duration_sec", utils.Round3(duration))
		if p.batch != nil {
			p.batch.Clear()
		}
		return nil
	}

	transcript := ""
	if p.batch != nil {
		transcript = p.batch.Transcribe(ctx)
		p.batch.Clear()
	}
	if len([]rune(strings.TrimSpace(transcript))) < p.cfg.MinChars {
		p.stats.Suppressed++
		p.logger.Debugw("empty or tiny transcript, suppressing turn",
			"call_id", p.cfg.CallID, "speaker", p.cfg.Speaker, "duration_sec", utils.Round3(duration))
		return nil
	}

	result := p.turns.Evaluate(strings.TrimSpace(transcript), duration, silenceMs)
	p.recordLocked(result, duration)
	return &TurnOutcome{
		CallID:    p.cfg.CallID,
		Speaker:   p.cfg.Speaker,
		Result:    result,
		StartTime: utils.Round3(startTime),
		EndTime:   utils.Round3(endTime),
	}
}

// outcomeLocked builds the streaming-mode outcome from an arbiter result.
// Caller holds p.mu.
func (p *SpeakerProcessor) outcomeLocked(result internal_turn.Result, silenceMs float64) *TurnOutcome {
	endTime := p.currentTime - silenceMs/1000
	if endTime < 0 {
		endTime = 0
	}
	startTime := endTime - result.Duration
	if startTime < 0 {
		startTime = 0
	}
	p.recordLocked(result, result.Duration)
	return &TurnOutcome{
		CallID:    p.cfg.CallID,
		Speaker:   p.cfg.Speaker,
		Result:    result,
		StartTime: utils.Round3(startTime),
		EndTime:   utils.Round3(endTime),
	}
}

func (p *SpeakerProcessor) recordLocked(result internal_turn.Result, duration float64) {
	p.stats.Turns++
	if result.Decision == internal_turn.DecisionComplete {
		p.stats.CompleteTurns++
	} else {
		p.stats.IncompleteTurns++
	}
	p.stats.TotalSpeechSec += duration
}

func (p *SpeakerProcessor) emit(o TurnOutcome) {
	if p.onTurn != nil {
		p.onTurn(o)
	}
}

// HandleSTTResult receives recognition updates in streaming mode. Final
// transcripts go to the boundary arbiter, which may close a turn whose
// silence fired before the transcript arrived.
func (p *SpeakerProcessor) HandleSTTResult(transcript string, isFinal bool) {
	if p.cfg.Mode != ModeStreaming || !isFinal {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	var outcome *TurnOutcome
	if result := p.arbiter.OnFinal(transcript, p.currentTime); result != nil {
		p.speaking = false
		p.silenceFrames = 0
		outcome = p.outcomeLocked(*result, 0)
	}
	p.mu.Unlock()

	if outcome != nil {
		p.emit(*outcome)
	}
}

// Stop force-flushes any open utterance so call teardown never swallows a
// final turn, then releases the VAD back-end.
func (p *SpeakerProcessor) Stop(ctx context.Context) {
	var outcome *TurnOutcome

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true

	switch p.cfg.Mode {
	case ModeStreaming:
		if p.arbiter.HasPendingTurn() {
			if result := p.arbiter.OnSilence(float64(p.cfg.TurnMinSilenceMs), p.currentTime); result != nil {
				outcome = p.outcomeLocked(*result, 0)
			}
		}
	default:
		if p.speaking {
			windowSec := float64(p.vad.WindowSize()) / float64(internal_audio.PipelineSampleRate)
			outcome = p.finalizeBatchLocked(ctx, float64(p.cfg.MinSilenceMs), windowSec)
		}
	}
	p.mu.Unlock()

	if outcome != nil {
		p.emit(*outcome)
	}
	if err := p.vad.Close(); err != nil {
		p.logger.Warnw("vad close failed",
			"call_id", p.cfg.CallID, "speaker", p.cfg.Speaker, "error", err)
	}
}

// Stats snapshots the turn counters.
func (p *SpeakerProcessor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// CurrentTime reports the stream clock in seconds.
func (p *SpeakerProcessor) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}
