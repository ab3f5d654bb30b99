package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	// AudioClientIDSize is the size of the sender-chosen client identifier
	// at the front of every audio packet.
	AudioClientIDSize = 4
	// AudioNonceSize is the AES-GCM nonce size carried alongside the ciphertext.
	AudioNonceSize = 12
	// AudioHeaderSize is clientID + nonce, before the ciphertext begins.
	AudioHeaderSize = AudioClientIDSize + AudioNonceSize
	// MaxAudioPacketSize bounds a single UDP audio datagram.
	MaxAudioPacketSize = 1200
)

var (
	ErrAudioPacketTooShort = errors.New("protocol: audio packet shorter than header")
	ErrAudioPacketTooLarge = errors.New("protocol: audio packet exceeds maximum size")
)

// AudioPacket is one relayed voice datagram: [clientID(4 LE)][nonce(12)][ciphertext+tag].
type AudioPacket struct {
	ClientID   uint32
	Nonce      []byte
	Ciphertext []byte
}

// BuildAudioPacket serializes an AudioPacket to wire bytes.
func BuildAudioPacket(clientID uint32, nonce, ciphertext []byte) ([]byte, error) {
	total := AudioHeaderSize + len(ciphertext)
	if total > MaxAudioPacketSize {
		return nil, ErrAudioPacketTooLarge
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], clientID)
	copy(buf[4:AudioHeaderSize], nonce)
	copy(buf[AudioHeaderSize:], ciphertext)
	return buf, nil
}

// ParseAudioPacket deserializes wire bytes into an AudioPacket. The returned
// Nonce and Ciphertext slices alias data and must be copied by the caller if
// retained past the lifetime of the UDP read buffer.
func ParseAudioPacket(data []byte) (*AudioPacket, error) {
	if len(data) > MaxAudioPacketSize {
		return nil, ErrAudioPacketTooLarge
	}
	if len(data) < AudioHeaderSize {
		return nil, ErrAudioPacketTooShort
	}
	return &AudioPacket{
		ClientID:   binary.LittleEndian.Uint32(data[0:4]),
		Nonce:      data[4:AudioHeaderSize],
		Ciphertext: data[AudioHeaderSize:],
	}, nil
}
