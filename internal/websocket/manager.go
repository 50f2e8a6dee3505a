// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_websocket fans pipeline events out to downstream
// analytics consumers over outbound WebSocket connections. Delivery is
// best-effort: a bounded queue evicts its oldest element when full, dead
// endpoints reconnect on a timer, and one dead endpoint never blocks the
// others.
package internal_websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_events "github.com/rapidaai/aicc-pipeline/internal/events"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// ManagerConfig tunes delivery behavior.
type ManagerConfig struct {
	QueueSize         int
	ReconnectInterval time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Stats is a delivery counter snapshot.
type Stats struct {
	Sent      uint64
	Dropped   uint64
	Enqueued  int
	Connected int
}

type endpoint struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (e *endpoint) setConn(c *websocket.Conn) {
	e.mu.Lock()
	e.conn = c
	e.mu.Unlock()
}

func (e *endpoint) getConn() *websocket.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// Manager owns the shared send queue and one connection loop per endpoint.
type Manager struct {
	logger commons.Logger
	cfg    ManagerConfig
	tokens TokenProvider

	endpoints []*endpoint

	queueMu  sync.Mutex
	queueCnd *sync.Cond
	queue    [][]byte
	closed   bool

	sent    uint64
	dropped uint64

	wg sync.WaitGroup
}

// NewManager builds a manager over the configured consumer URLs. Entries
// that are blank or start with '#' are treated as comments and skipped.
// tokens may be nil for unauthenticated consumers.
func NewManager(urls []string, cfg ManagerConfig, tokens TokenProvider, logger commons.Logger) *Manager {
	m := &Manager{
		logger: logger,
		cfg:    cfg.withDefaults(),
		tokens: tokens,
	}
	m.queueCnd = sync.NewCond(&m.queueMu)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		m.endpoints = append(m.endpoints, &endpoint{url: u})
	}
	return m
}

// EndpointCount reports the configured (non-comment) consumer URLs.
func (m *Manager) EndpointCount() int { return len(m.endpoints) }

// Start launches the send loop and one connect/reconnect loop per endpoint.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sendLoop()
	for _, ep := range m.endpoints {
		m.wg.Add(1)
		go m.connectLoop(ep)
	}
	m.logger.Infow("websocket: manager started", "endpoints", len(m.endpoints))
}

// Send serializes and enqueues an event. turn_complete events with an
// empty transcript are filtered before they reach the queue. When the queue
// is full the oldest element is evicted first; eviction and enqueue are one
// atomic step.
func (m *Manager) Send(ev internal_events.Event) {
	if tc, ok := ev.(internal_events.TurnComplete); ok {
		if strings.TrimSpace(tc.Transcript) == "" {
			return
		}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Errorw("websocket: event marshal failed", "type", ev.EventType(), "error", err)
		return
	}

	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return
	}
	if len(m.queue) >= m.cfg.QueueSize {
		m.queue = m.queue[1:]
		m.dropped++
		if m.dropped%100 == 1 {
			m.logger.Warnw("websocket: queue full, dropping oldest event",
				"dropped_total", m.dropped)
		}
	}
	m.queue = append(m.queue, payload)
	m.queueMu.Unlock()
	m.queueCnd.Signal()
}

// Stats snapshots delivery counters.
func (m *Manager) Stats() Stats {
	m.queueMu.Lock()
	s := Stats{
		Sent:     m.sent,
		Dropped:  m.dropped,
		Enqueued: len(m.queue),
	}
	m.queueMu.Unlock()
	for _, ep := range m.endpoints {
		if ep.getConn() != nil {
			s.Connected++
		}
	}
	return s
}

// Stop wakes the send loop, closes every live connection, and waits for
// the loops to exit.
func (m *Manager) Stop() {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return
	}
	m.closed = true
	m.queueMu.Unlock()
	m.queueCnd.Broadcast()

	for _, ep := range m.endpoints {
		if conn := ep.getConn(); conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
	}
	m.wg.Wait()
	m.logger.Infow("websocket: manager stopped", "sent", m.sent, "dropped", m.dropped)
}

func (m *Manager) sendLoop() {
	defer m.wg.Done()
	for {
		m.queueMu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.queueCnd.Wait()
		}
		if m.closed && len(m.queue) == 0 {
			m.queueMu.Unlock()
			return
		}
		closed := m.closed
		m.queueMu.Unlock()

		// Events stay queued until at least one consumer is live, so a
		// reconnecting consumer still receives the retained backlog in
		// FIFO order.
		if !m.hasLiveConn() {
			if closed {
				return
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.queueMu.Unlock()
			continue
		}
		payload := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		m.broadcast(payload)
	}
}

func (m *Manager) hasLiveConn() bool {
	for _, ep := range m.endpoints {
		if ep.getConn() != nil {
			return true
		}
	}
	return false
}

// broadcast writes one serialized event to every live endpoint. A failed
// write marks only that endpoint dead; its connect loop notices and
// reconnects.
func (m *Manager) broadcast(payload []byte) {
	delivered := false
	for _, ep := range m.endpoints {
		conn := ep.getConn()
		if conn == nil {
			continue
		}
		ep.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		err := conn.WriteMessage(websocket.TextMessage, payload)
		ep.writeMu.Unlock()
		if err != nil {
			m.logger.Warnw("websocket: send failed, marking endpoint dead",
				"url", ep.url, "error", err)
			ep.setConn(nil)
			conn.Close()
			continue
		}
		delivered = true
	}
	if delivered {
		m.queueMu.Lock()
		m.sent++
		m.queueMu.Unlock()
	}
}

func (m *Manager) connectLoop(ep *endpoint) {
	defer m.wg.Done()
	for {
		if m.isClosed() {
			return
		}

		conn, err := m.dial(ep.url)
		if err != nil {
			m.logger.Warnw("websocket: connect failed",
				"url", ep.url, "retry_in", m.cfg.ReconnectInterval, "error", err)
		} else {
			m.logger.Infow("websocket: connected", "url", ep.url)
			ep.setConn(conn)
			m.serveConn(ep, conn)
			ep.setConn(nil)
			if m.isClosed() {
				return
			}
			m.logger.Warnw("websocket: connection lost",
				"url", ep.url, "retry_in", m.cfg.ReconnectInterval)
		}

		if !m.sleep(m.cfg.ReconnectInterval) {
			return
		}
	}
}

func (m *Manager) dial(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{}
	if m.tokens != nil {
		token, err := m.tokens.Token()
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := dialer.Dial(url, header)
	return conn, err
}

// serveConn reads (and discards) inbound frames so control messages are
// processed and disconnects surface, while a ticker keeps pings flowing.
// Returns when the connection dies.
func (m *Manager) serveConn(ep *endpoint, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					m.logger.Infow("websocket: endpoint closed", "url", ep.url)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ep.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
			ep.writeMu.Unlock()
			if err != nil {
				conn.Close()
				<-done
				return
			}
		}
	}
}

func (m *Manager) isClosed() bool {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return m.closed
}

func (m *Manager) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if m.isClosed() {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !m.isClosed()
}
