// Package protocol defines the control-plane frame format, the wire
// message catalog carried inside it, and the UDP audio packet layout.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single control frame's JSON payload. A frame with a
// declared length of 0 or greater than MaxFrameSize is rejected before the
// payload is even read.
const MaxFrameSize = 65536

var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
	ErrFrameEmpty    = errors.New("protocol: frame length is zero")
)

// Frame is the envelope every control-plane message travels in:
// {"type": "...", "payload": {...}}. Payload is left raw so dispatch can
// pick the concrete type to unmarshal into based on Type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload and wraps it in a Frame of the given type.
func NewFrame(frameType string, payload any) (*Frame, error) {
	if payload == nil {
		return &Frame{Type: frameType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload for %s: %w", frameType, err)
	}
	return &Frame{Type: frameType, Payload: data}, nil
}

// Decode unmarshals the frame's payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", f.Type, err)
	}
	return nil
}

// WriteFrame encodes frame as [4-byte little-endian length][UTF-8 JSON] and
// writes it to w.
func WriteFrame(w io.Writer, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	if len(data) == 0 || len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, ErrFrameEmpty
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	frame := &Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return frame, nil
}
