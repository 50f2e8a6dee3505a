// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_stt adapts the cloud speech recognizer to the pipeline:
// a batch transcriber for turn-close recognition and a streaming session
// with warm-standby rotation for continuous recognition.
package internal_stt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
)

const (
	// DefaultLanguageCode is Korean; the pipeline serves a Korean contact
	// center and no other locale is supported.
	DefaultLanguageCode = "ko-KR"
	// DefaultModel is tuned for 8 kHz-originated narrowband audio.
	DefaultModel = "telephony"

	// DefaultRotationInterval keeps streaming sessions under the
	// provider's five-minute stream limit with margin.
	DefaultRotationInterval = 270 * time.Second

	// DefaultAudioQueueSize bounds the per-speaker feed channel.
	DefaultAudioQueueSize = 300

	// DefaultPhraseBoost is applied to recognition phrase hints.
	DefaultPhraseBoost = 10.0
)

// Config carries everything needed to build recognizers.
type Config struct {
	// CredentialsPath points at a service-account JSON file. Empty means
	// ambient credentials; ProjectID must then be set explicitly.
	CredentialsPath string
	ProjectID       string
	Language        string
	Model           string
	Phrases         []string
	PhraseBoost     float64

	RotationInterval time.Duration
	AudioQueueSize   int
}

func (c Config) withDefaults() Config {
	out := c
	if out.Language == "" {
		out.Language = DefaultLanguageCode
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.PhraseBoost == 0 {
		out.PhraseBoost = DefaultPhraseBoost
	}
	if out.RotationInterval <= 0 {
		out.RotationInterval = DefaultRotationInterval
	}
	if out.AudioQueueSize <= 0 {
		out.AudioQueueSize = DefaultAudioQueueSize
	}
	return out
}

// ResolveProjectID fills ProjectID from the credentials file when unset.
func (c *Config) ResolveProjectID() error {
	if c.ProjectID != "" || c.CredentialsPath == "" {
		return nil
	}
	raw, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return fmt.Errorf("stt: read credentials: %w", err)
	}
	var cred struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return fmt.Errorf("stt: parse credentials: %w", err)
	}
	if cred.ProjectID == "" {
		return fmt.Errorf("stt: credentials file %s has no project_id", c.CredentialsPath)
	}
	c.ProjectID = cred.ProjectID
	return nil
}

// ClientOptions builds the API client options for the speech endpoint.
func (c *Config) ClientOptions() []option.ClientOption {
	opts := make([]option.ClientOption, 0, 1)
	if c.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsPath))
	}
	return opts
}

// Recognizer returns the implicit recognizer resource path.
func (c *Config) Recognizer() string {
	return fmt.Sprintf("projects/%s/locations/global/recognizers/_", c.ProjectID)
}

// RecognitionConfig builds the shared batch/streaming recognition config:
// explicit LINEAR16 at the pipeline rate, mono, Korean, telephony model,
// optional inline phrase adaptation.
func (c *Config) RecognitionConfig() *speechpb.RecognitionConfig {
	cfg := c.withDefaults()
	out := &speechpb.RecognitionConfig{
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   16000,
				AudioChannelCount: 1,
			},
		},
		Features: &speechpb.RecognitionFeatures{
			EnableAutomaticPunctuation: true,
		},
		LanguageCodes: []string{cfg.Language},
		Model:         cfg.Model,
	}
	if len(cfg.Phrases) > 0 {
		phrases := make([]*speechpb.PhraseSet_Phrase, 0, len(cfg.Phrases))
		for _, p := range cfg.Phrases {
			phrases = append(phrases, &speechpb.PhraseSet_Phrase{
				Value: p,
				Boost: float32(cfg.PhraseBoost),
			})
		}
		out.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSets: []*speechpb.SpeechAdaptation_AdaptationPhraseSet{
				{
					Value: &speechpb.SpeechAdaptation_AdaptationPhraseSet_InlinePhraseSet{
						InlinePhraseSet: &speechpb.PhraseSet{Phrases: phrases},
					},
				},
			},
		}
	}
	return out
}

// StreamingConfig wraps RecognitionConfig for the bidirectional stream with
// interim results enabled; interims drive the boundary arbiter's display
// snapshot while finals drive emission.
func (c *Config) StreamingConfig() *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: c.RecognitionConfig(),
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
			EnableVoiceActivityEvents: false,
			InterimResults:            true,
		},
	}
}
