// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	internal_audio "github.com/rapidaai/aicc-pipeline/internal/audio"
	internal_rtp "github.com/rapidaai/aicc-pipeline/internal/rtp"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

const (
	receiverReadBuffer   = 2048
	receiverReadDeadline = 200 * time.Millisecond
	// Parse errors beyond this count are only reflected in the counter.
	maxParseErrorLogs = 5
)

// ReceiverConfig carries the per-socket knobs of one media leg.
type ReceiverConfig struct {
	CallID  string
	Speaker Speaker
	Port    uint16
	// AllowedSources restricts datagrams to these source IPs; empty means
	// accept from anywhere.
	AllowedSources []string
}

// ReceiverStats is a point-in-time snapshot of a receiver's counters.
type ReceiverStats struct {
	Packets     uint64
	Bytes       uint64
	ParseErrors uint64
	Rejected    uint64
}

// UDPReceiver binds one RTP port, decodes G.711 payloads, upsamples them
// to the pipeline rate, and hands 16 kHz PCM to the speaker processor.
type UDPReceiver struct {
	logger commons.Logger
	cfg    ReceiverConfig

	// onAudio receives 16 kHz mono PCM for every accepted packet.
	onAudio func(speaker Speaker, pcm []int16)
	// onFirstPacket fires once, when media actually starts flowing.
	onFirstPacket func(speaker Speaker)

	allowed map[string]struct{}

	conn     net.PacketConn
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	firstOnce sync.Once

	packets     atomic.Uint64
	bytes       atomic.Uint64
	parseErrors atomic.Uint64
	rejected    atomic.Uint64
}

// NewUDPReceiver builds a receiver; Start binds the socket.
func NewUDPReceiver(cfg ReceiverConfig, onAudio func(Speaker, []int16), onFirstPacket func(Speaker), logger commons.Logger) *UDPReceiver {
	var allowed map[string]struct{}
	if len(cfg.AllowedSources) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedSources))
		for _, ip := range cfg.AllowedSources {
			allowed[ip] = struct{}{}
		}
	}
	return &UDPReceiver{
		logger:        logger,
		cfg:           cfg,
		onAudio:       onAudio,
		onFirstPacket: onFirstPacket,
		allowed:       allowed,
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// reuseAddr lets a restarted process rebind a port still in TIME_WAIT.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Start binds the port and launches the read loop.
func (r *UDPReceiver) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", r.cfg.Port))
	if err != nil {
		return fmt.Errorf("receiver %s/%s: bind port %d: %w", r.cfg.CallID, r.cfg.Speaker, r.cfg.Port, err)
	}
	r.conn = conn
	r.logger.Infow("receiver listening",
		"call_id", r.cfg.CallID, "speaker", r.cfg.Speaker, "port", r.cfg.Port)

	go r.readLoop()
	return nil
}

func (r *UDPReceiver) readLoop() {
	defer close(r.done)
	buf := make([]byte, receiverReadBuffer)

	for {
		select {
		case <-r.stopped:
			return
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(receiverReadDeadline)); err != nil {
			return
		}
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-r.stopped:
			default:
				r.logger.Errorw("receiver read failed",
					"call_id", r.cfg.CallID, "speaker", r.cfg.Speaker, "error", err)
			}
			return
		}
		r.handleDatagram(buf[:n], addr)
	}
}

func (r *UDPReceiver) handleDatagram(data []byte, addr net.Addr) {
	if r.allowed != nil {
		if udpAddr, ok := addr.(*net.UDPAddr); ok {
			if _, ok := r.allowed[udpAddr.IP.String()]; !ok {
				r.rejected.Add(1)
				return
			}
		}
	}

	pkt, err := internal_rtp.Parse(data)
	if err != nil {
		if r.parseErrors.Add(1) <= maxParseErrorLogs {
			r.logger.Warnw("dropping malformed packet",
				"call_id", r.cfg.CallID, "speaker", r.cfg.Speaker, "error", err)
		}
		return
	}

	r.packets.Add(1)
	r.bytes.Add(uint64(len(pkt.Payload)))
	r.firstOnce.Do(func() {
		r.logger.Infow("first media packet",
			"call_id", r.cfg.CallID, "speaker", r.cfg.Speaker, "payload_type", pkt.PayloadType)
		if r.onFirstPacket != nil {
			r.onFirstPacket(r.cfg.Speaker)
		}
	})

	var pcm8k []int16
	if pkt.IsALaw() {
		pcm8k = internal_audio.DecodeALaw(pkt.Payload)
	} else {
		pcm8k = internal_audio.DecodeULaw(pkt.Payload)
	}
	pcm16k := internal_audio.Resample8kTo16k(pcm8k)
	if r.onAudio != nil {
		r.onAudio(r.cfg.Speaker, pcm16k)
	}
}

// Stop closes the socket and waits for the read loop to exit.
func (r *UDPReceiver) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
		if r.conn != nil {
			r.conn.Close()
		}
	})
	if r.conn != nil {
		<-r.done
	}
	r.logger.Infow("receiver stopped",
		"call_id", r.cfg.CallID, "speaker", r.cfg.Speaker,
		"packets", r.packets.Load(), "parse_errors", r.parseErrors.Load(),
		"rejected", r.rejected.Load())
}

// Stats snapshots the receiver's counters.
func (r *UDPReceiver) Stats() ReceiverStats {
	return ReceiverStats{
		Packets:     r.packets.Load(),
		Bytes:       r.bytes.Load(),
		ParseErrors: r.parseErrors.Load(),
		Rejected:    r.rejected.Load(),
	}
}

// Port reports the bound media port.
func (r *UDPReceiver) Port() uint16 { return r.cfg.Port }
