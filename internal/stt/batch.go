// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"bytes"
	"context"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// recognizeFunc issues one synchronous recognition call. Indirection keeps
// the transcriber testable without a live endpoint.
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// BatchTranscriber accumulates PCM for one utterance and transcribes it in
// a single RPC when the turn closes. Safe for the single-writer audio path
// plus a concurrent shutdown caller.
type BatchTranscriber struct {
	logger    commons.Logger
	cfg       Config
	recognize recognizeFunc

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewBatchTranscriber builds a transcriber over an established client.
func NewBatchTranscriber(client *speech.Client, cfg Config, logger commons.Logger) *BatchTranscriber {
	return &BatchTranscriber{
		logger: logger,
		cfg:    cfg.withDefaults(),
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return client.Recognize(ctx, req)
		},
	}
}

// AddAudio appends 16 kHz LINEAR16 bytes to the utterance buffer.
func (b *BatchTranscriber) AddAudio(pcm []byte) {
	b.mu.Lock()
	b.buf.Write(pcm)
	b.mu.Unlock()
}

// BufferedBytes reports the accumulated audio size.
func (b *BatchTranscriber) BufferedBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Clear discards the buffer, called after every turn emission.
func (b *BatchTranscriber) Clear() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

// Transcribe recognizes the buffered audio and returns the concatenated
// first-alternative transcript. Recognition errors yield an empty string;
// the turn pipeline treats missing transcripts as suppression, not failure.
func (b *BatchTranscriber) Transcribe(ctx context.Context) string {
	b.mu.Lock()
	audio := make([]byte, b.buf.Len())
	copy(audio, b.buf.Bytes())
	b.mu.Unlock()

	if len(audio) == 0 {
		return ""
	}

	resp, err := b.recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: b.cfg.Recognizer(),
		Config:     b.cfg.RecognitionConfig(),
		AudioSource: &speechpb.RecognizeRequest_Content{
			Content: audio,
		},
	})
	if err != nil {
		b.logger.Warnw("stt: batch recognize failed", "bytes", len(audio), "error", err)
		return ""
	}

	var sb strings.Builder
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(alts[0].GetTranscript())
	}
	return strings.TrimSpace(sb.String())
}
