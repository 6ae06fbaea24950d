package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateMemberID generates a unique member ID. Member IDs are stable for
// the life of a session and survive transport reconnects.
func GenerateMemberID() string {
	return uuid.NewString()
}

// GenerateMessageID generates a unique chat message ID.
func GenerateMessageID() string {
	return uuid.NewString()
}

// GenerateConnectionID generates a transport connection ID.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRoomCode generates a short opaque room code for callers that do
// not supply one.
func GenerateRoomCode() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
