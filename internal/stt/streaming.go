// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// Result is one recognition update from the stream. Interim results carry
// IsFinal=false and are display-only; finals feed turn emission.
type Result struct {
	Transcript string
	IsFinal    bool
	Confidence float64
	Stability  float64
}

// ResultCallback receives recognition updates in stream order.
type ResultCallback func(Result)

// ErrorCallback receives a terminal session error. The continuous manager
// reacts by rotating onto a fresh session.
type ErrorCallback func(sessionID string, err error)

// session is the rotation unit managed by ContinuousSession.
type session interface {
	ID() string
	Start(ctx context.Context) error
	Feed(pcm []byte)
	Stop()
}

// StreamingSession is one bidirectional recognition stream. The first
// request carries the recognizer and streaming config, every later request
// one audio frame.
type StreamingSession struct {
	id       string
	logger   commons.Logger
	cfg      Config
	client   *speech.Client
	onResult ResultCallback
	onError  ErrorCallback

	audioCh chan []byte
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopOnce sync.Once
	dropped  atomic.Uint64
}

func NewStreamingSession(id string, client *speech.Client, cfg Config, onResult ResultCallback, onError ErrorCallback, logger commons.Logger) *StreamingSession {
	cfg = cfg.withDefaults()
	return &StreamingSession{
		id:       id,
		logger:   logger,
		cfg:      cfg,
		client:   client,
		onResult: onResult,
		onError:  onError,
		audioCh:  make(chan []byte, cfg.AudioQueueSize),
		stopCh:   make(chan struct{}),
	}
}

func (s *StreamingSession) ID() string { return s.id }

// Start opens the stream, sends the config request, and launches the send
// and receive loops.
func (s *StreamingSession) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	stream, err := s.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("stt: open stream: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: s.cfg.Recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: s.cfg.StreamingConfig(),
		},
	}); err != nil {
		cancel()
		return fmt.Errorf("stt: send config: %w", err)
	}

	s.wg.Add(2)
	go s.sendLoop(stream)
	go s.recvLoop(streamCtx, stream)
	s.logger.Infow("stt: streaming session started", "session", s.id)
	return nil
}

// Feed queues one audio frame. When the queue is full the oldest frame is
// dropped so live audio stays current.
func (s *StreamingSession) Feed(pcm []byte) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	select {
	case s.audioCh <- pcm:
	default:
		select {
		case <-s.audioCh:
		default:
		}
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warnw("stt: audio queue full, dropping oldest frame",
				"session", s.id, "dropped_total", n)
		}
		select {
		case s.audioCh <- pcm:
		default:
		}
	}
}

func (s *StreamingSession) sendLoop(stream speechpb.Speech_StreamingRecognizeClient) {
	defer s.wg.Done()
	for {
		select {
		case pcm := <-s.audioCh:
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
			}); err != nil {
				if !errors.Is(err, io.EOF) {
					s.logger.Warnw("stt: audio send failed", "session", s.id, "error", err)
				}
				return
			}
		case <-s.stopCh:
			if err := stream.CloseSend(); err != nil {
				s.logger.Debugw("stt: close send", "session", s.id, "error", err)
			}
			return
		}
	}
}

func (s *StreamingSession) recvLoop(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) {
	defer s.wg.Done()
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return
			}
			s.logger.Warnw("stt: stream receive failed", "session", s.id, "error", err)
			if s.onError != nil {
				s.onError(s.id, err)
			}
			return
		}
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			s.onResult(Result{
				Transcript: alts[0].GetTranscript(),
				IsFinal:    result.GetIsFinal(),
				Confidence: float64(alts[0].GetConfidence()),
				Stability:  float64(result.GetStability()),
			})
		}
	}
}

// Stop drains the stream: half-close first so buffered audio finishes
// recognition, then cancel if the server does not hang up in time.
func (s *StreamingSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			s.logger.Warnw("stt: session close timed out, cancelling", "session", s.id)
		}
		if s.cancel != nil {
			s.cancel()
		}
		<-done
		s.logger.Infow("stt: streaming session stopped", "session", s.id)
	})
}
