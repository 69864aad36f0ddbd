// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spectra/internal/display"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testView() *display.View {
	return &display.View{
		Surface:   "udp",
		Seq:       7,
		Timestamp: time.Unix(1700000000, 123456789),
		Latency:   1500 * time.Microsecond,
		RMS:       0.25,
		Bands:     []float64{0.1, 0.5, 0.9},
		Peaks:     []float64{0.2, 0.6, 1.0},
		PeakIndex: 2,
	}
}

func TestNewUDPPublisherValidation(t *testing.T) {
	_, err := NewUDPPublisher(nil, 4)
	assert.Error(t, err)

	conn := listen(t)
	sender, err := NewUDPSender(conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = NewUDPPublisher(sender, 0)
	assert.Error(t, err)
	_, err = NewUDPPublisher(sender, MaxBands+1)
	assert.Error(t, err)
}

func TestPublisherLoopback(t *testing.T) {
	conn := listen(t)
	sender, err := NewUDPSender(conn.LocalAddr().String())
	require.NoError(t, err)

	pub, err := NewUDPPublisher(sender, 3)
	require.NoError(t, err)
	defer pub.Close()

	view := testView()
	require.NoError(t, pub.Send(view))

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, PacketSize(3), n)

	pkt, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.EqualValues(t, 7, pkt.Seq)
	assert.True(t, view.Timestamp.Equal(pkt.Timestamp))
	assert.Equal(t, 1500*time.Microsecond, pkt.Latency)
	assert.InDelta(t, 0.25, pkt.RMS, 1e-6)
	assert.EqualValues(t, 2, pkt.PeakIndex)
	assert.InDeltaSlice(t, []float32{0.1, 0.5, 0.9}, pkt.Bands, 1e-6)
	assert.InDeltaSlice(t, []float32{0.2, 0.6, 1.0}, pkt.Peaks, 1e-6)
}

func TestPublisherRejectsWrongBandCount(t *testing.T) {
	conn := listen(t)
	sender, err := NewUDPSender(conn.LocalAddr().String())
	require.NoError(t, err)

	pub, err := NewUDPPublisher(sender, 4)
	require.NoError(t, err)
	defer pub.Close()

	assert.Error(t, pub.Send(testView()))
}

func TestSendAfterClose(t *testing.T) {
	conn := listen(t)
	sender, err := NewUDPSender(conn.LocalAddr().String())
	require.NoError(t, err)

	pub, err := NewUDPPublisher(sender, 3)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	require.NoError(t, sender.Close(), "second close is a no-op")

	assert.ErrorIs(t, pub.Send(testView()), ErrSenderClosed)
}

func TestDecodePacketShort(t *testing.T) {
	_, err := DecodePacket(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortPacket)

	data := make([]byte, HeaderSize)
	data[23] = 2 // claims two bands with no payload
	_, err = DecodePacket(data)
	assert.ErrorIs(t, err, ErrShortPacket)
}
