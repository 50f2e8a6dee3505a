// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

const (
	// rotationBufferCap holds two seconds of 16 kHz LINEAR16 audio, the
	// most that may arrive while a rotation is in flight.
	rotationBufferCap = 2 * 16000 * 2

	standbyRetryDelay = 5 * time.Second
	maxStandbyRetries = 3
)

// sessionFactory builds one streaming session wired to the manager's
// callbacks. Indirected for tests.
type sessionFactory func(id string) session

// ContinuousSession keeps recognition running for the whole call despite
// the provider's per-stream time limit. One active session carries audio;
// a warm standby is prepared in the background and swapped in every
// rotation interval so no audio gap opens. Audio arriving mid-rotation is
// buffered (bounded, oldest dropped) and flushed into the new active.
type ContinuousSession struct {
	logger  commons.Logger
	cfg     Config
	factory sessionFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// rotateMu serializes rotations; the timer and an error-triggered
	// rotation may otherwise interleave their swap steps.
	rotateMu sync.Mutex

	mu          sync.Mutex
	active      session
	standby     session
	rotating    bool
	rotationBuf [][]byte
	bufBytes    int
	accumulated string
	interim     string
	rotations   int
	started     bool

	onResult ResultCallback
}

// NewContinuousSession builds the manager. onResult receives every interim
// and final from whichever session is active.
func NewContinuousSession(client SessionClient, cfg Config, onResult ResultCallback, logger commons.Logger) *ContinuousSession {
	cs := &ContinuousSession{
		logger:   logger,
		cfg:      cfg.withDefaults(),
		onResult: onResult,
	}
	cs.factory = func(id string) session {
		return client.newSession(id, cs.handleResult, cs.handleSessionError, cs.cfg, logger)
	}
	return cs
}

// Start opens the first session, begins standby preparation, and arms the
// rotation timer.
func (cs *ContinuousSession) Start(ctx context.Context) error {
	cs.ctx, cs.cancel = context.WithCancel(ctx)

	first := cs.factory(cs.sessionID())
	if err := first.Start(cs.ctx); err != nil {
		cs.cancel()
		return fmt.Errorf("stt: start continuous session: %w", err)
	}

	cs.mu.Lock()
	cs.active = first
	cs.started = true
	cs.mu.Unlock()

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		cs.prepareStandby()
	}()
	go cs.rotationLoop()
	return nil
}

// Feed routes one audio frame to the active session, or to the rotation
// buffer while a swap is in flight.
func (cs *ContinuousSession) Feed(pcm []byte) {
	cs.mu.Lock()
	if cs.rotating || cs.active == nil {
		cs.bufferLocked(pcm)
		cs.mu.Unlock()
		return
	}
	active := cs.active
	cs.mu.Unlock()

	active.Feed(pcm)
}

// SnapshotTranscript returns the finals accumulated since the last snapshot
// and resets the accumulator. The session keeps running; this is how a
// consumer without a result callback reads the transcript at turn
// boundaries without interrupting recognition. Sessions built with a
// callback do not accumulate and always snapshot empty.
func (cs *ContinuousSession) SnapshotTranscript() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := cs.accumulated
	cs.accumulated = ""
	return out
}

// InterimTranscript returns the latest non-final hypothesis.
func (cs *ContinuousSession) InterimTranscript() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.interim
}

// Rotations reports completed session swaps.
func (cs *ContinuousSession) Rotations() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.rotations
}

// Stop shuts down the rotation timer and both sessions.
func (cs *ContinuousSession) Stop() {
	cs.mu.Lock()
	if !cs.started {
		cs.mu.Unlock()
		return
	}
	cs.started = false
	active, standby := cs.active, cs.standby
	cs.active, cs.standby = nil, nil
	cs.mu.Unlock()

	cs.cancel()
	if active != nil {
		active.Stop()
	}
	if standby != nil {
		standby.Stop()
	}
	cs.wg.Wait()
}

func (cs *ContinuousSession) rotationLoop() {
	defer cs.wg.Done()
	ticker := time.NewTicker(cs.cfg.RotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cs.rotate()
		case <-cs.ctx.Done():
			return
		}
	}
}

// rotate swaps the warm standby in as the new active. When no standby is
// ready it falls back to a synchronous restart; the rotation buffer absorbs
// the sub-second gap.
func (cs *ContinuousSession) rotate() {
	cs.rotateMu.Lock()
	defer cs.rotateMu.Unlock()

	cs.mu.Lock()
	if !cs.started {
		cs.mu.Unlock()
		return
	}
	cs.rotating = true
	old := cs.active
	next := cs.standby
	cs.standby = nil
	cs.mu.Unlock()

	if next == nil {
		cs.logger.Warnw("stt: no warm standby, restarting inline")
		if old != nil {
			// Stop drains the old stream's receive loop. When the rotation
			// was triggered by that stream's own error callback, a
			// synchronous Stop here would wait on ourselves.
			go old.Stop()
			old = nil
		}
		next = cs.factory(cs.sessionID())
		if err := next.Start(cs.ctx); err != nil {
			cs.logger.Errorw("stt: fallback rotation failed", "error", err)
			cs.mu.Lock()
			cs.active = nil
			cs.rotating = false
			cs.mu.Unlock()
			return
		}
	}

	cs.mu.Lock()
	cs.active = next
	cs.rotating = false
	buffered := cs.rotationBuf
	cs.rotationBuf = nil
	cs.bufBytes = 0
	cs.rotations++
	count := cs.rotations
	cs.mu.Unlock()

	for _, pcm := range buffered {
		next.Feed(pcm)
	}
	cs.logger.Infow("stt: session rotated",
		"rotation", count, "flushed_frames", len(buffered), "session", next.ID())

	if old != nil {
		go old.Stop()
	}

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.prepareStandby()
	}()
}

func (cs *ContinuousSession) prepareStandby() {
	for attempt := 1; attempt <= maxStandbyRetries; attempt++ {
		if cs.ctx.Err() != nil {
			return
		}
		sb := cs.factory(cs.sessionID())
		if err := sb.Start(cs.ctx); err != nil {
			cs.logger.Warnw("stt: standby preparation failed",
				"attempt", attempt, "error", err)
			select {
			case <-time.After(standbyRetryDelay):
			case <-cs.ctx.Done():
				return
			}
			continue
		}

		cs.mu.Lock()
		if !cs.started {
			cs.mu.Unlock()
			sb.Stop()
			return
		}
		cs.standby = sb
		cs.mu.Unlock()
		cs.logger.Infow("stt: warm standby ready", "session", sb.ID())
		return
	}
	cs.logger.Errorw("stt: standby preparation exhausted retries",
		"attempts", maxStandbyRetries)
}

// handleResult runs on every recognition update from active or standby.
// With a callback consumer attached, finals are handed over and not
// retained; otherwise they append to the snapshot accumulator with a
// separating space. Accumulating on top of a callback would grow without
// bound over a long call since nothing would ever drain the snapshot.
func (cs *ContinuousSession) handleResult(r Result) {
	cs.mu.Lock()
	if r.IsFinal {
		if cs.onResult == nil {
			if cs.accumulated != "" {
				cs.accumulated += " " + r.Transcript
			} else {
				cs.accumulated = r.Transcript
			}
		}
		cs.interim = ""
	} else {
		cs.interim = r.Transcript
	}
	cs.mu.Unlock()

	if cs.onResult != nil {
		cs.onResult(r)
	}
}

// handleSessionError fires when the active stream dies outside a planned
// rotation; recovery is an immediate unscheduled rotation. The callback
// runs on the dead stream's receive goroutine, so the rotation itself runs
// elsewhere: stopping the failed session must not wait on the goroutine we
// are standing on.
func (cs *ContinuousSession) handleSessionError(sessionID string, err error) {
	cs.mu.Lock()
	isActive := cs.active != nil && cs.active.ID() == sessionID
	started := cs.started
	cs.mu.Unlock()
	if !started || !isActive {
		return
	}
	cs.logger.Warnw("stt: active session failed, rotating early",
		"session", sessionID, "error", err)
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.rotate()
	}()
}

func (cs *ContinuousSession) bufferLocked(pcm []byte) {
	for cs.bufBytes+len(pcm) > rotationBufferCap && len(cs.rotationBuf) > 0 {
		cs.bufBytes -= len(cs.rotationBuf[0])
		cs.rotationBuf = cs.rotationBuf[1:]
	}
	if len(pcm) > rotationBufferCap {
		return
	}
	cs.rotationBuf = append(cs.rotationBuf, pcm)
	cs.bufBytes += len(pcm)
}

func (cs *ContinuousSession) sessionID() string {
	return uuid.NewString()[:8]
}
