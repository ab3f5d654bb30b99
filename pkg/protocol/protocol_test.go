package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	frame, err := NewFrame(TypeJoinChannel, JoinChannelPayload{ChannelID: uuid.New()})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeJoinChannel, got.Type)

	var payload JoinChannelPayload
	require.NoError(t, got.Decode(&payload))
	require.Equal(t, frame.Payload, got.Payload)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	// little-endian length far beyond MaxFrameSize
	lenBuf[3] = 0xFF
	buf.Write(lenBuf)

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 4))

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameEmpty)
}

func TestWriteFrameUsesLittleEndianLength(t *testing.T) {
	frame, err := NewFrame(TypePing, PingPayload{Timestamp: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	raw := buf.Bytes()
	require.Len(t, raw, 4+len(raw)-4)
	// the high length byte for a short frame must be zero; a big-endian
	// encoder would put the meaningful byte there instead.
	require.Equal(t, byte(0), raw[3])
}

func TestAudioPacketRoundTrip(t *testing.T) {
	nonce := bytes.Repeat([]byte{0x01}, AudioNonceSize)
	ciphertext := []byte("sealed-audio-bytes")

	raw, err := BuildAudioPacket(42, nonce, ciphertext)
	require.NoError(t, err)

	pkt, err := ParseAudioPacket(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(42), pkt.ClientID)
	require.Equal(t, nonce, pkt.Nonce)
	require.Equal(t, ciphertext, pkt.Ciphertext)
}

func TestParseAudioPacketTooShort(t *testing.T) {
	_, err := ParseAudioPacket([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrAudioPacketTooShort)
}

func TestBuildAudioPacketTooLarge(t *testing.T) {
	nonce := make([]byte, AudioNonceSize)
	ciphertext := make([]byte, MaxAudioPacketSize)
	_, err := BuildAudioPacket(1, nonce, ciphertext)
	require.ErrorIs(t, err, ErrAudioPacketTooLarge)
}
