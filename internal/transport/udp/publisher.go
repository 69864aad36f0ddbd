// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"spectra/internal/display"
	applog "spectra/internal/log"
	"spectra/internal/transport"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | View sequence, wraps    |
| Timestamp         | int64          | 8            | Capture time, ns epoch  |
| Latency           | uint32         | 4            | Capture to publish, µs  |
| RMS               | float32        | 4            | Input level             |
| Peak Index        | uint16         | 2            | Loudest band            |
| Band Count        | uint16         | 2            | Number of bands (N)     |
| Bands             | []float32      | N * 4        | Smoothed band levels    |
| Peaks             | []float32      | N * 4        | Peak-hold markers       |
+-----------------------------------------------------------------------------+
*/

// HeaderSize is the fixed part of a packet.
const HeaderSize = 4 + 8 + 4 + 4 + 2 + 2

// MaxBands is the largest band count a packet can carry in one datagram.
const MaxBands = (65507 - HeaderSize) / 8

// ErrShortPacket is returned by DecodePacket for truncated input.
var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded datagram.
type Packet struct {
	Seq       uint32
	Timestamp time.Time
	Latency   time.Duration
	RMS       float32
	PeakIndex uint16
	Bands     []float32
	Peaks     []float32
}

// PacketSize returns the encoded size for a band count.
func PacketSize(bands int) int {
	return HeaderSize + 8*bands
}

// UDPPublisher encodes views into fixed-layout datagrams and sends them
// through a UDPSender. The packet buffer is allocated once.
type UDPPublisher struct {
	sender *UDPSender
	bands  int
	packet []byte
	sent   uint64
}

var _ transport.Transport = (*UDPPublisher)(nil)

// NewUDPPublisher creates a publisher for views with the given band count.
func NewUDPPublisher(sender *UDPSender, bands int) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if bands < 1 || bands > MaxBands {
		return nil, fmt.Errorf("UDPPublisher: band count %d out of range [1, %d]", bands, MaxBands)
	}

	applog.Infof("UDPPublisher: Initializing (Bands: %d, Packet: %d bytes)", bands, PacketSize(bands))

	return &UDPPublisher{
		sender: sender,
		bands:  bands,
		packet: make([]byte, PacketSize(bands)),
	}, nil
}

// Send implements display.Renderer.
func (p *UDPPublisher) Send(view *display.View) error {
	if len(view.Bands) != p.bands || len(view.Peaks) != p.bands {
		return fmt.Errorf("UDPPublisher: view has %d bands, want %d", len(view.Bands), p.bands)
	}

	buf := p.packet
	binary.BigEndian.PutUint32(buf[0:], uint32(view.Seq))
	binary.BigEndian.PutUint64(buf[4:], uint64(view.Timestamp.UnixNano()))
	binary.BigEndian.PutUint32(buf[12:], uint32(max(0, min(view.Latency.Microseconds(), math.MaxUint32))))
	binary.BigEndian.PutUint32(buf[16:], math.Float32bits(float32(view.RMS)))
	binary.BigEndian.PutUint16(buf[20:], uint16(view.PeakIndex))
	binary.BigEndian.PutUint16(buf[22:], uint16(p.bands))

	off := HeaderSize
	for _, v := range view.Bands {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}
	for _, v := range view.Peaks {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}

	if err := p.sender.Send(buf); err != nil {
		return err
	}
	p.sent++
	return nil
}

// Close closes the underlying sender.
func (p *UDPPublisher) Close() error {
	applog.Debugf("UDPPublisher: Close called after %d packets", p.sent)
	return p.sender.Close()
}

// DecodePacket parses a datagram produced by UDPPublisher.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, ErrShortPacket
	}

	n := int(binary.BigEndian.Uint16(data[22:]))
	if len(data) < PacketSize(n) {
		return Packet{}, fmt.Errorf("%w: %d bytes for %d bands", ErrShortPacket, len(data), n)
	}

	p := Packet{
		Seq:       binary.BigEndian.Uint32(data[0:]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(data[4:]))),
		Latency:   time.Duration(binary.BigEndian.Uint32(data[12:])) * time.Microsecond,
		RMS:       math.Float32frombits(binary.BigEndian.Uint32(data[16:])),
		PeakIndex: binary.BigEndian.Uint16(data[20:]),
		Bands:     make([]float32, n),
		Peaks:     make([]float32, n),
	}

	off := HeaderSize
	for i := range n {
		p.Bands[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range n {
		p.Peaks[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}
	return p, nil
}
