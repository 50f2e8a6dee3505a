// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_core holds the per-call machinery: port allocation,
// session registry, UDP ingest, the speaker state machine, and task
// tracking.
package internal_core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrPoolExhausted is returned when no port pair is left; the admission
// API maps it to 503.
var ErrPoolExhausted = errors.New("port pool exhausted")

// PortPair is one call's media ports. Customer is always the even port,
// agent the odd one above it (RFC 3550 pairing convention).
type PortPair struct {
	Customer uint16
	Agent    uint16
}

// PortPool hands out even/odd port pairs from [rangeStart, rangeEnd).
// The lowest available pair is always chosen so releases are reused
// deterministically.
type PortPool struct {
	mu        sync.Mutex
	available []uint16 // sorted even ports
	allocated map[string]PortPair
	byPort    map[uint16]string
}

// NewPortPool builds a pool over [rangeStart, rangeEnd). rangeStart is
// rounded up to even; each pair consumes two consecutive ports.
func NewPortPool(rangeStart, rangeEnd uint16) (*PortPool, error) {
	if rangeStart >= rangeEnd {
		return nil, fmt.Errorf("port pool: invalid range [%d, %d)", rangeStart, rangeEnd)
	}
	if rangeStart%2 != 0 {
		rangeStart++
	}
	p := &PortPool{
		allocated: make(map[string]PortPair),
		byPort:    make(map[uint16]string),
	}
	for port := rangeStart; port+1 < rangeEnd; port += 2 {
		p.available = append(p.available, port)
	}
	if len(p.available) == 0 {
		return nil, fmt.Errorf("port pool: range [%d, %d) holds no pair", rangeStart, rangeEnd)
	}
	return p, nil
}

// Allocate reserves the lowest available pair for callID. Allocating an
// already-registered callID returns its existing pair untouched.
func (p *PortPool) Allocate(callID string) (PortPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pair, ok := p.allocated[callID]; ok {
		return pair, nil
	}
	if len(p.available) == 0 {
		return PortPair{}, ErrPoolExhausted
	}

	customer := p.available[0]
	p.available = p.available[1:]
	pair := PortPair{Customer: customer, Agent: customer + 1}
	p.allocated[callID] = pair
	p.byPort[pair.Customer] = callID
	p.byPort[pair.Agent] = callID
	return pair, nil
}

// Release returns callID's pair to the pool. Releasing an unknown callID
// is a no-op.
func (p *PortPool) Release(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pair, ok := p.allocated[callID]
	if !ok {
		return
	}
	delete(p.allocated, callID)
	delete(p.byPort, pair.Customer)
	delete(p.byPort, pair.Agent)

	idx := sort.Search(len(p.available), func(i int) bool {
		return p.available[i] >= pair.Customer
	})
	p.available = append(p.available, 0)
	copy(p.available[idx+1:], p.available[idx:])
	p.available[idx] = pair.Customer
}

// CallForPort resolves which call owns a port (either side of the pair).
func (p *PortPool) CallForPort(port uint16) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	callID, ok := p.byPort[port]
	return callID, ok
}

// AvailablePairs reports how many pairs remain.
func (p *PortPool) AvailablePairs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// AllocatedPairs reports how many pairs are in use.
func (p *PortPool) AllocatedPairs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
