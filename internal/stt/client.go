// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv2"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// NewSpeechClient dials the speech endpoint with the configured credentials.
// The client is shared by every call's batch and streaming work.
func NewSpeechClient(ctx context.Context, cfg Config) (*speech.Client, error) {
	client, err := speech.NewClient(ctx, cfg.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("stt: create speech client: %w", err)
	}
	return client, nil
}

// SessionClient creates streaming sessions. The continuous manager depends
// on this seam instead of the concrete client.
type SessionClient interface {
	newSession(id string, onResult ResultCallback, onError ErrorCallback, cfg Config, logger commons.Logger) session
}

type speechSessionClient struct {
	client *speech.Client
}

// NewSessionClient wraps an established speech client.
func NewSessionClient(client *speech.Client) SessionClient {
	return &speechSessionClient{client: client}
}

func (c *speechSessionClient) newSession(id string, onResult ResultCallback, onError ErrorCallback, cfg Config, logger commons.Logger) session {
	return NewStreamingSession(id, c.client, cfg, onResult, onError, logger)
}
