// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads every pipeline knob from AICC_-prefixed environment
// variables with sane defaults, then validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// maxNumberedWSURLs bounds the AICC_WS_URL_1..N scan.
const maxNumberedWSURLs = 16

// Config is the application config structure.
type Config struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	LogFile     string `mapstructure:"log_file"`

	// REST bind
	APIHost string `mapstructure:"api_host" validate:"required"`
	APIPort int    `mapstructure:"api_port" validate:"gt=0,lte=65535"`

	// Static single-call mode: when CallID is set the pipeline opens
	// CustomerPort/AgentPort at startup instead of waiting for REST admission.
	CallID       string `mapstructure:"call_id"`
	CustomerPort int    `mapstructure:"customer_port" validate:"gte=0,lte=65535"`
	AgentPort    int    `mapstructure:"agent_port" validate:"gte=0,lte=65535"`

	// Dynamic port pool for REST-admitted calls.
	PortRangeStart int `mapstructure:"port_range_start" validate:"gt=0,lte=65535"`
	PortRangeEnd   int `mapstructure:"port_range_end" validate:"gt=0,lte=65535,gtfield=PortRangeStart"`

	// Comma-separated source IPs allowed to send media; empty allows all.
	AllowedSourceIPs string `mapstructure:"allowed_source_ips"`

	// WebSocket fan-out
	WSURL                 string `mapstructure:"ws_url"`
	WSQueueMaxSize        int    `mapstructure:"ws_queue_maxsize" validate:"gt=0"`
	WSReconnectIntervalMs int    `mapstructure:"ws_reconnect_interval_ms" validate:"gt=0"`
	WSAuthSecret          string `mapstructure:"ws_auth_secret"`
	WSClientID            string `mapstructure:"ws_client_id"`
	WSTokenTTLHours       int    `mapstructure:"ws_token_ttl_hours" validate:"gt=0"`

	// VAD
	VADModelPath string  `mapstructure:"vad_model_path"`
	VADThreshold float64 `mapstructure:"vad_threshold" validate:"gt=0,lte=1"`
	MinSpeechMs  int     `mapstructure:"min_speech_ms" validate:"gt=0"`
	MinSilenceMs int     `mapstructure:"min_silence_ms" validate:"gt=0"`

	// Turn fusion
	TurnMorphemeWeight    float64 `mapstructure:"turn_morpheme_weight" validate:"gte=0,lte=1"`
	TurnDurationWeight    float64 `mapstructure:"turn_duration_weight" validate:"gte=0,lte=1"`
	TurnSilenceWeight     float64 `mapstructure:"turn_silence_weight" validate:"gte=0,lte=1"`
	TurnCompleteThreshold float64 `mapstructure:"turn_complete_threshold" validate:"gt=0,lte=1"`
	TurnMinSilenceMs      int     `mapstructure:"turn_min_silence_ms" validate:"gt=0"`
	TurnMinChars          int     `mapstructure:"turn_min_chars" validate:"gte=1"`

	// STT
	STTMode              string  `mapstructure:"stt_mode" validate:"oneof=batch streaming"`
	STTCredentials       string  `mapstructure:"stt_credentials"`
	STTLanguage          string  `mapstructure:"stt_language" validate:"required"`
	STTModel             string  `mapstructure:"stt_model" validate:"required"`
	STTPhrases           string  `mapstructure:"stt_phrases"`
	STTPhrasesPath       string  `mapstructure:"stt_phrases_path"`
	STTPhraseBoost       float64 `mapstructure:"stt_phrase_boost" validate:"gte=0,lte=20"`
	STTRotationSec       int     `mapstructure:"stt_rotation_sec" validate:"gt=0"`
	STTAudioQueueMaxSize int     `mapstructure:"stt_audio_queue_maxsize" validate:"gt=0"`

	// Numbered AICC_WS_URL_1..N endpoints, collected at load time.
	ExtraWSURLs []string `mapstructure:"-"`
}

// Load reads the environment and returns a validated config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AICC")
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	for i := 1; i <= maxNumberedWSURLs; i++ {
		if url := strings.TrimSpace(v.GetString(fmt.Sprintf("ws_url_%d", i))); url != "" {
			cfg.ExtraWSURLs = append(cfg.ExtraWSURLs, url)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "aicc-pipeline")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 8080)

	v.SetDefault("call_id", "")
	v.SetDefault("customer_port", 5004)
	v.SetDefault("agent_port", 5005)
	v.SetDefault("port_range_start", 40000)
	v.SetDefault("port_range_end", 40100)
	v.SetDefault("allowed_source_ips", "")

	v.SetDefault("ws_url", "")
	v.SetDefault("ws_queue_maxsize", 1000)
	v.SetDefault("ws_reconnect_interval_ms", 5000)
	v.SetDefault("ws_auth_secret", "")
	v.SetDefault("ws_client_id", "aicc-pipeline")
	v.SetDefault("ws_token_ttl_hours", 24)

	v.SetDefault("vad_model_path", "")
	v.SetDefault("vad_threshold", 0.45)
	v.SetDefault("min_speech_ms", 300)
	v.SetDefault("min_silence_ms", 800)

	v.SetDefault("turn_morpheme_weight", 0.6)
	v.SetDefault("turn_duration_weight", 0.2)
	v.SetDefault("turn_silence_weight", 0.2)
	v.SetDefault("turn_complete_threshold", 0.65)
	v.SetDefault("turn_min_silence_ms", 800)
	v.SetDefault("turn_min_chars", 1)

	v.SetDefault("stt_mode", "streaming")
	v.SetDefault("stt_credentials", "")
	v.SetDefault("stt_language", "ko-KR")
	v.SetDefault("stt_model", "telephony")
	v.SetDefault("stt_phrases", "")
	v.SetDefault("stt_phrases_path", "")
	v.SetDefault("stt_phrase_boost", 10.0)
	v.SetDefault("stt_rotation_sec", 270)
	v.SetDefault("stt_audio_queue_maxsize", 300)
}

// WSURLs merges the primary URL with the numbered ones, order preserved.
func (c *Config) WSURLs() []string {
	out := make([]string, 0, 1+len(c.ExtraWSURLs))
	if strings.TrimSpace(c.WSURL) != "" {
		out = append(out, strings.TrimSpace(c.WSURL))
	}
	return append(out, c.ExtraWSURLs...)
}

// AllowedSources splits the comma-separated whitelist; empty means allow all.
func (c *Config) AllowedSources() []string {
	if strings.TrimSpace(c.AllowedSourceIPs) == "" {
		return nil
	}
	var out []string
	for _, ip := range strings.Split(c.AllowedSourceIPs, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}

// RotationInterval converts the rotation knob to a duration.
func (c *Config) RotationInterval() time.Duration {
	return time.Duration(c.STTRotationSec) * time.Second
}

// ReconnectInterval converts the WS reconnect knob to a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.WSReconnectIntervalMs) * time.Millisecond
}

// TokenTTL converts the WS token knob to a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.WSTokenTTLHours) * time.Hour
}

// StaticPairMode reports whether the pipeline should open a fixed call at
// startup instead of waiting for REST admission.
func (c *Config) StaticPairMode() bool {
	return strings.TrimSpace(c.CallID) != ""
}
