// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_events defines the JSON events published to downstream
// analytics consumers. Each event type is its own struct so required fields
// are checked at compile time; the wire shape is snake_case JSON.
package internal_events

import "time"

const (
	TypeMetadataStart = "metadata_start"
	TypeTurnComplete  = "turn_complete"
	TypeMetadataEnd   = "metadata_end"
)

// Event is any publishable pipeline event.
type Event interface {
	EventType() string
}

// MetadataStart announces a call before its first turn.
type MetadataStart struct {
	Type           string `json:"type"`
	CallID         string `json:"call_id"`
	Timestamp      string `json:"timestamp"`
	CustomerNumber string `json:"customer_number"`
	AgentID        string `json:"agent_id"`
}

func (MetadataStart) EventType() string { return TypeMetadataStart }

// TurnComplete reports one finished utterance of one speaker. Times are
// seconds from call start, rounded to three decimals.
type TurnComplete struct {
	Type        string  `json:"type"`
	CallID      string  `json:"call_id"`
	Timestamp   string  `json:"timestamp"`
	Speaker     string  `json:"speaker"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Transcript  string  `json:"transcript"`
	Decision    string  `json:"decision"`
	FusionScore float64 `json:"fusion_score"`
}

func (TurnComplete) EventType() string { return TypeTurnComplete }

// MetadataEnd closes a call with aggregate statistics.
type MetadataEnd struct {
	Type            string  `json:"type"`
	CallID          string  `json:"call_id"`
	Timestamp       string  `json:"timestamp"`
	TotalDuration   float64 `json:"total_duration"`
	TurnCount       int     `json:"turn_count"`
	SpeechRatio     float64 `json:"speech_ratio"`
	CompleteTurns   int     `json:"complete_turns"`
	IncompleteTurns int     `json:"incomplete_turns"`
}

func (MetadataEnd) EventType() string { return TypeMetadataEnd }

// Timestamp renders t as ISO-8601 UTC with a trailing Z and millisecond
// precision, the format downstream consumers parse.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
