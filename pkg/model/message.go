package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MessageMaxContentLength = 2000

var ErrMessageContentTooLong = fmt.Errorf("message content exceeds %d characters", MessageMaxContentLength)
var ErrMessageContentEmpty = errors.New("message content cannot be empty")

// Message is a chat side-channel message persisted for a channel. The stores
// keep Content as handed to them: the control server passes "enc:"+base64 of
// AES-GCM ciphertext (crypto.EncryptMessage) to either store and decrypts it
// again when serving history.
type Message struct {
	ID        int64
	ChannelID uuid.UUID
	SenderID  uuid.UUID
	Content   string
	CreatedAt time.Time
}

// ValidateMessageContent trims and checks content against the protocol's
// content limit.
func ValidateMessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrMessageContentEmpty
	}
	if utf8.RuneCountInString(trimmed) > MessageMaxContentLength {
		return "", ErrMessageContentTooLong
	}
	return trimmed, nil
}

// MessageFilters narrows a message history query.
type MessageFilters struct {
	ChannelID uuid.UUID
	Since     time.Time // zero = no lower bound
	Limit     int        // 1..500
}
