// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_core

import (
	"sync"
	"time"
)

// Speaker identifies one side of the call.
type Speaker string

const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAgent    Speaker = "agent"
)

// CallSession is the live state of one registered call: its port pair,
// both speaker processors, both receivers, and the admission metadata.
type CallSession struct {
	CallID         string
	CustomerNumber string
	AgentID        string
	Ports          PortPair
	StartTime      time.Time

	CustomerProcessor *SpeakerProcessor
	AgentProcessor    *SpeakerProcessor
	CustomerReceiver  *UDPReceiver
	AgentReceiver     *UDPReceiver
}

// Processors returns both speaker processors, nil entries skipped.
func (s *CallSession) Processors() []*SpeakerProcessor {
	out := make([]*SpeakerProcessor, 0, 2)
	if s.CustomerProcessor != nil {
		out = append(out, s.CustomerProcessor)
	}
	if s.AgentProcessor != nil {
		out = append(out, s.AgentProcessor)
	}
	return out
}

// Receivers returns both receivers, nil entries skipped.
func (s *CallSession) Receivers() []*UDPReceiver {
	out := make([]*UDPReceiver, 0, 2)
	if s.CustomerReceiver != nil {
		out = append(out, s.CustomerReceiver)
	}
	if s.AgentReceiver != nil {
		out = append(out, s.AgentReceiver)
	}
	return out
}

// SessionRegistry maps call identifiers to live sessions. It shares the
// port pool's locking discipline: one mutex, no nested acquisition.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*CallSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*CallSession)}
}

// Put stores a session, returning the existing one instead when the callID
// is already registered (duplicate admission is idempotent).
func (r *SessionRegistry) Put(s *CallSession) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.CallID]; ok {
		return existing, false
	}
	r.sessions[s.CallID] = s
	return s, true
}

// Get looks up a session.
func (r *SessionRegistry) Get(callID string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove deletes and returns a session.
func (r *SessionRegistry) Remove(callID string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	return s, ok
}

// List snapshots every live session.
func (r *SessionRegistry) List() []*CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
