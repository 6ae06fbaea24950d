package domain

import "time"

type ControlKind string

const (
	ControlPlay   ControlKind = "play"
	ControlPause  ControlKind = "pause"
	ControlSeek   ControlKind = "seek"
	ControlVolume ControlKind = "volume-change"
	ControlSpeed  ControlKind = "speed-change"
)

// Valid reports whether the kind is one of the known playback commands.
func (k ControlKind) Valid() bool {
	switch k {
	case ControlPlay, ControlPause, ControlSeek, ControlVolume, ControlSpeed:
		return true
	}
	return false
}

// ControlEvent is a playback command broadcast from the host to the other
// room members. Immutable once emitted, never persisted.
type ControlEvent struct {
	Kind      ControlKind
	Time      *float64 // seconds, for seek
	Volume    *float64 // 0..1
	Speed     *float64 // playback rate
	MemberID  MemberID
	Timestamp time.Time
}

// ChatMessage is broadcast to all room members including the sender and is
// not kept beyond the broadcast.
type ChatMessage struct {
	ID          string
	MemberID    MemberID
	DisplayName string
	Text        string
	Timestamp   time.Time
}
