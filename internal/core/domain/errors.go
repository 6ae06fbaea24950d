package domain

import "errors"

var (
	ErrRoomFull         = errors.New("room is full")
	ErrRoomNotFound     = errors.New("room not found")
	ErrUserNotInRoom    = errors.New("user is not a member of this room")
	ErrMemberNotFound   = errors.New("member not found")
	ErrNotAuthorized    = errors.New("only the host may perform this action")
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
	ErrTransferAborted  = errors.New("chunk retry budget exhausted")
	ErrConnectionLost   = errors.New("peer connection lost")
)
