package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ChannelType distinguishes a voice channel (key material, audio relay
// membership) from a text channel (chat only, no key material).
type ChannelType int

const (
	ChannelVoice ChannelType = iota
	ChannelText
)

func (t ChannelType) String() string {
	if t == ChannelText {
		return "text"
	}
	return "voice"
}

func ParseChannelType(s string) ChannelType {
	if s == "text" {
		return ChannelText
	}
	return ChannelVoice
}

const (
	ChannelDefaultName        = "Lobby"
	ChannelKeyMaterialSize    = 32
	MaxChannelNameLength      = 64
	MaxChannelsPerServer      = 100 // fixed server-wide creation cap
)

var ErrChannelNameEmpty = errors.New("channel name must not be empty")
var ErrChannelNameTooLong = errors.New("channel name too long")

// Channel is a server-scoped group of users sharing a peer set and, for
// voice channels, a symmetric key. MemberIDs is runtime-only: membership is
// session-scoped and is never persisted (see pkg/channel for the
// authoritative in-memory membership registry; this field is filled in by
// that package's List, Get and Join, and left empty by the datastore).
type Channel struct {
	ID          uuid.UUID
	Name        string
	Type        ChannelType
	IsDefault   bool
	KeyMaterial []byte // 32 bytes, voice only; nil for text channels
	MemberIDs   []uuid.UUID
	CreatedAt   time.Time
}

// ValidateChannelName checks a proposed channel name against the length and
// emptiness constraints shared by create_channel and the YAML seed loader.
func ValidateChannelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxChannelNameLength {
		return ErrChannelNameTooLong
	}
	return nil
}
