// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

const (
	// PayloadTypePCMU is the static payload type for G.711 mu-law (RFC 3551).
	PayloadTypePCMU = 0
	// PayloadTypePCMA is the static payload type for G.711 A-law.
	PayloadTypePCMA = 8

	fixedHeaderSize = 12
)

var (
	ErrPacketTooShort     = errors.New("rtp: packet shorter than fixed header")
	ErrUnsupportedVersion = errors.New("rtp: unsupported version")
)

// Packet is a parsed RTP datagram. Payload excludes CSRC entries, the
// extension header, and trailing padding.
type Packet struct {
	Version     uint8
	Padding     bool
	Extension   bool
	Marker      bool
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	CSRC        []uint32
	Payload     []byte
}

// IsULaw reports whether the payload carries G.711 mu-law audio.
func (p *Packet) IsULaw() bool { return p.PayloadType == PayloadTypePCMU }

// IsALaw reports whether the payload carries G.711 A-law audio.
func (p *Packet) IsALaw() bool { return p.PayloadType == PayloadTypePCMA }

// Parse validates and decodes a raw datagram. The payload type is not
// enforced here; decoder selection is a receiver-level choice.
func Parse(b []byte) (*Packet, error) {
	if len(b) < fixedHeaderSize {
		return nil, ErrPacketTooShort
	}
	if version := b[0] >> 6; version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("rtp: unmarshal: %w", err)
	}

	return &Packet{
		Version:     pkt.Version,
		Padding:     pkt.Padding,
		Extension:   pkt.Extension,
		Marker:      pkt.Marker,
		PayloadType: pkt.PayloadType,
		Sequence:    pkt.SequenceNumber,
		Timestamp:   pkt.Timestamp,
		SSRC:        pkt.SSRC,
		CSRC:        pkt.CSRC,
		Payload:     pkt.Payload,
	}, nil
}
