// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_pipeline owns call lifecycle: admission builds the
// per-speaker chain (receiver -> VAD -> STT -> turn detection), teardown
// drains it in reverse and publishes the closing metadata event.
package internal_pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	calls_api "github.com/rapidaai/aicc-pipeline/api/calls"
	"github.com/rapidaai/aicc-pipeline/config"
	internal_core "github.com/rapidaai/aicc-pipeline/internal/core"
	internal_events "github.com/rapidaai/aicc-pipeline/internal/events"
	internal_turn "github.com/rapidaai/aicc-pipeline/internal/turn"
	internal_vad "github.com/rapidaai/aicc-pipeline/internal/vad"
	internal_websocket "github.com/rapidaai/aicc-pipeline/internal/websocket"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
	"github.com/rapidaai/aicc-pipeline/pkg/utils"
)

const (
	// drainDelay gives the WS send loop a moment to flush metadata_end
	// before connections close on shutdown.
	drainDelay = 500 * time.Millisecond

	statsLogInterval = 30 * time.Second
)

// StreamSession is the continuous recognition surface the controller
// manages per speaker in streaming mode.
type StreamSession interface {
	Start(ctx context.Context) error
	Feed(pcm []byte)
	Stop()
}

// Dependencies are the back-end factories the controller builds speakers
// from. NewStream may be nil (forces batch mode); NewBatch may be nil
// (turns are evaluated on empty transcripts and suppressed).
type Dependencies struct {
	VADFactory func() internal_vad.Detector
	NewBatch   func() internal_core.BatchBackend
	NewStream  func(onResult func(transcript string, isFinal bool)) StreamSession
}

// sttRouter forwards recognition results to a processor that is created
// after the stream it listens to.
type sttRouter struct {
	mu   sync.Mutex
	proc *internal_core.SpeakerProcessor
}

func (r *sttRouter) set(p *internal_core.SpeakerProcessor) {
	r.mu.Lock()
	r.proc = p
	r.mu.Unlock()
}

func (r *sttRouter) handle(transcript string, isFinal bool) {
	r.mu.Lock()
	p := r.proc
	r.mu.Unlock()
	if p != nil {
		p.HandleSTTResult(transcript, isFinal)
	}
}

// Controller implements calls_api.CallService on top of the port pool,
// session registry, and WebSocket fan-out.
type Controller struct {
	logger commons.Logger
	cfg    *config.Config
	deps   Dependencies

	pool     *internal_core.PortPool
	registry *internal_core.SessionRegistry
	ws       *internal_websocket.Manager
	tasks    *internal_core.TaskRegistry
	turns    *internal_turn.Detector

	// admissionMu serializes Register/End so concurrent admission of the
	// same callID cannot double-bind ports.
	admissionMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[string][]StreamSession
}

// NewController wires the shared components. ws is already constructed
// (URL filtering happens there); Start connects it.
func NewController(cfg *config.Config, ws *internal_websocket.Manager, deps Dependencies, logger commons.Logger) (*Controller, error) {
	pool, err := internal_core.NewPortPool(uint16(cfg.PortRangeStart), uint16(cfg.PortRangeEnd))
	if err != nil {
		return nil, err
	}
	if deps.VADFactory == nil {
		return nil, errors.New("pipeline: VAD factory is required")
	}
	weights := internal_turn.Weights{
		Morpheme: cfg.TurnMorphemeWeight,
		Duration: cfg.TurnDurationWeight,
		Silence:  cfg.TurnSilenceWeight,
	}
	return &Controller{
		logger:   logger,
		cfg:      cfg,
		deps:     deps,
		pool:     pool,
		registry: internal_core.NewSessionRegistry(),
		ws:       ws,
		tasks:    internal_core.NewTaskRegistry(logger),
		turns:    internal_turn.NewDetector(weights, cfg.TurnCompleteThreshold, nil, logger),
		streams:  make(map[string][]StreamSession),
	}, nil
}

// Start connects the fan-out, launches the stats reporter, and in static
// pair mode opens the configured fixed-port call immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.ws.Start()
	c.tasks.Go(ctx, "ws-stats", func(ctx context.Context) error {
		ticker := time.NewTicker(statsLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := c.ws.Stats()
				c.logger.Infow("delivery stats",
					"sent", stats.Sent, "dropped", stats.Dropped,
					"queued", stats.Enqueued, "connected", stats.Connected,
					"active_calls", c.registry.Count())
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if c.cfg.StaticPairMode() {
		pair := internal_core.PortPair{
			Customer: uint16(c.cfg.CustomerPort),
			Agent:    uint16(c.cfg.AgentPort),
		}
		sess, err := c.buildSession(ctx, c.cfg.CallID, "", "", pair)
		if err != nil {
			return fmt.Errorf("pipeline: static call %q: %w", c.cfg.CallID, err)
		}
		c.registry.Put(sess)
		c.emitStart(sess)
		c.logger.Infow("static call opened",
			"call_id", c.cfg.CallID, "customer_port", pair.Customer, "agent_port", pair.Agent)
	}
	return nil
}

// Register admits one call: allocate ports, build both speaker chains with
// STT running before any media can arrive, then bind the receivers.
func (c *Controller) Register(ctx context.Context, callID, customerNumber, agentID string) (calls_api.CallInfo, bool, error) {
	c.admissionMu.Lock()
	defer c.admissionMu.Unlock()

	if existing, ok := c.registry.Get(callID); ok {
		return c.toInfo(existing), false, nil
	}

	pair, err := c.pool.Allocate(callID)
	if err != nil {
		return calls_api.CallInfo{}, false, err
	}
	sess, err := c.buildSession(ctx, callID, customerNumber, agentID, pair)
	if err != nil {
		c.pool.Release(callID)
		return calls_api.CallInfo{}, false, err
	}
	c.registry.Put(sess)
	c.emitStart(sess)
	c.logger.Infow("call registered",
		"call_id", callID, "customer_port", pair.Customer, "agent_port", pair.Agent)
	return c.toInfo(sess), true, nil
}

// End tears one call down and releases its ports.
func (c *Controller) End(ctx context.Context, callID string) error {
	c.admissionMu.Lock()
	defer c.admissionMu.Unlock()

	sess, ok := c.registry.Remove(callID)
	if !ok {
		return calls_api.ErrCallNotFound
	}
	c.teardown(ctx, sess)
	return nil
}

// Get returns one call snapshot.
func (c *Controller) Get(callID string) (calls_api.CallInfo, bool) {
	sess, ok := c.registry.Get(callID)
	if !ok {
		return calls_api.CallInfo{}, false
	}
	return c.toInfo(sess), true
}

// List returns every live call.
func (c *Controller) List() []calls_api.CallInfo {
	sessions := c.registry.List()
	out := make([]calls_api.CallInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, c.toInfo(s))
	}
	return out
}

// HealthChecks exposes component probes for the readiness endpoint.
func (c *Controller) HealthChecks() map[string]calls_api.HealthCheck {
	return map[string]calls_api.HealthCheck{
		"websocket": func() error {
			if c.ws.EndpointCount() == 0 {
				return errors.New("no consumer endpoints configured")
			}
			return nil
		},
		"port_pool": func() error {
			if c.pool.AvailablePairs() == 0 {
				return internal_core.ErrPoolExhausted
			}
			return nil
		},
		"stt": func() error {
			if c.cfg.STTMode == string(internal_core.ModeStreaming) && c.deps.NewStream == nil {
				return errors.New("streaming mode without a recognition backend")
			}
			return nil
		},
	}
}

// Shutdown ends every live call in parallel, drains the fan-out, and stops
// background tasks with a bounded timeout.
func (c *Controller) Shutdown(ctx context.Context) {
	var g errgroup.Group
	for _, sess := range c.registry.List() {
		removed, ok := c.registry.Remove(sess.CallID)
		if !ok {
			continue
		}
		g.Go(func() error {
			c.teardown(ctx, removed)
			return nil
		})
	}
	g.Wait()
	time.Sleep(drainDelay)
	c.ws.Stop()
	c.tasks.Shutdown(internal_core.DefaultShutdownTimeout)
	c.logger.Info("pipeline stopped")
}

func (c *Controller) buildSession(ctx context.Context, callID, customerNumber, agentID string, pair internal_core.PortPair) (*internal_core.CallSession, error) {
	sess := &internal_core.CallSession{
		CallID:         callID,
		CustomerNumber: customerNumber,
		AgentID:        agentID,
		Ports:          pair,
		StartTime:      time.Now(),
	}
	var streams []StreamSession
	fail := func(err error) (*internal_core.CallSession, error) {
		for _, r := range sess.Receivers() {
			r.Stop()
		}
		for _, p := range sess.Processors() {
			p.Stop(ctx)
		}
		for _, s := range streams {
			s.Stop()
		}
		return nil, err
	}

	for _, leg := range []struct {
		speaker internal_core.Speaker
		port    uint16
	}{
		{internal_core.SpeakerCustomer, pair.Customer},
		{internal_core.SpeakerAgent, pair.Agent},
	} {
		proc, stream, err := c.buildSpeaker(ctx, callID, leg.speaker)
		if err != nil {
			return fail(err)
		}
		if stream != nil {
			streams = append(streams, stream)
		}

		recv := internal_core.NewUDPReceiver(internal_core.ReceiverConfig{
			CallID:         callID,
			Speaker:        leg.speaker,
			Port:           leg.port,
			AllowedSources: c.cfg.AllowedSources(),
		}, func(_ internal_core.Speaker, pcm []int16) {
			proc.ProcessAudio(pcm)
		}, nil, c.logger)
		if err := recv.Start(ctx); err != nil {
			return fail(err)
		}

		switch leg.speaker {
		case internal_core.SpeakerCustomer:
			sess.CustomerProcessor, sess.CustomerReceiver = proc, recv
		default:
			sess.AgentProcessor, sess.AgentReceiver = proc, recv
		}
	}

	c.streamsMu.Lock()
	c.streams[callID] = streams
	c.streamsMu.Unlock()
	return sess, nil
}

// buildSpeaker creates one speaker's STT backend and processor. The stream
// starts before the processor exists, so a router bridges the callback.
func (c *Controller) buildSpeaker(ctx context.Context, callID string, speaker internal_core.Speaker) (*internal_core.SpeakerProcessor, StreamSession, error) {
	mode := internal_core.STTMode(c.cfg.STTMode)

	var (
		batch  internal_core.BatchBackend
		stream StreamSession
	)
	router := &sttRouter{}
	if mode == internal_core.ModeStreaming && c.deps.NewStream != nil {
		stream = c.deps.NewStream(router.handle)
		if err := stream.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start stt stream for %s/%s: %w", callID, speaker, err)
		}
	} else {
		mode = internal_core.ModeBatch
		if c.deps.NewBatch != nil {
			batch = c.deps.NewBatch()
		}
	}

	var streamBackend internal_core.StreamBackend
	if stream != nil {
		streamBackend = stream
	}
	proc := internal_core.NewSpeakerProcessor(internal_core.ProcessorConfig{
		CallID:           callID,
		Speaker:          speaker,
		Mode:             mode,
		MinSpeechMs:      c.cfg.MinSpeechMs,
		MinSilenceMs:     c.cfg.MinSilenceMs,
		TurnMinSilenceMs: c.cfg.TurnMinSilenceMs,
		MinChars:         c.cfg.TurnMinChars,
	}, c.deps.VADFactory(), c.turns, batch, streamBackend, c.emitTurn, c.logger)
	router.set(proc)
	return proc, stream, nil
}

// teardown drains one call in dependency order: receivers first so no new
// audio arrives, then processors (flushing open turns), then STT.
func (c *Controller) teardown(ctx context.Context, sess *internal_core.CallSession) {
	for _, r := range sess.Receivers() {
		r.Stop()
	}
	for _, p := range sess.Processors() {
		p.Stop(ctx)
	}

	c.streamsMu.Lock()
	streams := c.streams[sess.CallID]
	delete(c.streams, sess.CallID)
	c.streamsMu.Unlock()
	for _, s := range streams {
		s.Stop()
	}

	c.emitEnd(sess)
	c.pool.Release(sess.CallID)
	c.logger.Infow("call ended", "call_id", sess.CallID)
}

func (c *Controller) emitStart(sess *internal_core.CallSession) {
	c.ws.Send(internal_events.MetadataStart{
		Type:           internal_events.TypeMetadataStart,
		CallID:         sess.CallID,
		Timestamp:      internal_events.Timestamp(time.Now()),
		CustomerNumber: sess.CustomerNumber,
		AgentID:        sess.AgentID,
	})
}

func (c *Controller) emitTurn(o internal_core.TurnOutcome) {
	c.ws.Send(internal_events.TurnComplete{
		Type:        internal_events.TypeTurnComplete,
		CallID:      o.CallID,
		Timestamp:   internal_events.Timestamp(time.Now()),
		Speaker:     string(o.Speaker),
		StartTime:   o.StartTime,
		EndTime:     o.EndTime,
		Transcript:  o.Result.Transcript,
		Decision:    string(o.Result.Decision),
		FusionScore: o.Result.FusionScore,
	})
}

func (c *Controller) emitEnd(sess *internal_core.CallSession) {
	var agg internal_core.ProcessorStats
	for _, p := range sess.Processors() {
		s := p.Stats()
		agg.Turns += s.Turns
		agg.CompleteTurns += s.CompleteTurns
		agg.IncompleteTurns += s.IncompleteTurns
		agg.TotalSpeechSec += s.TotalSpeechSec
	}

	total := time.Since(sess.StartTime).Seconds()
	ratio := 0.0
	if total > 0 {
		ratio = agg.TotalSpeechSec / total
	}
	c.ws.Send(internal_events.MetadataEnd{
		Type:            internal_events.TypeMetadataEnd,
		CallID:          sess.CallID,
		Timestamp:       internal_events.Timestamp(time.Now()),
		TotalDuration:   utils.Round3(total),
		TurnCount:       agg.Turns,
		SpeechRatio:     utils.Round3(ratio),
		CompleteTurns:   agg.CompleteTurns,
		IncompleteTurns: agg.IncompleteTurns,
	})
}

func (c *Controller) toInfo(sess *internal_core.CallSession) calls_api.CallInfo {
	turns := 0
	for _, p := range sess.Processors() {
		turns += p.Stats().Turns
	}
	return calls_api.CallInfo{
		CallID:         sess.CallID,
		CustomerNumber: sess.CustomerNumber,
		AgentID:        sess.AgentID,
		CustomerPort:   sess.Ports.Customer,
		AgentPort:      sess.Ports.Agent,
		StartTime:      internal_events.Timestamp(sess.StartTime),
		Turns:          turns,
	}
}
