package services

import (
	"context"
	"encoding/json"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/protocol"
	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/utils"
	"syncroom/pkg/validation"

	"go.uber.org/zap"
)

// RoomService is the session coordinator: it bridges transport connections
// to the room registry and fans events out to room members. All validation
// failures surface as errors to the caller; the transport layer converts
// them into error messages for the offending connection only.
type RoomService struct {
	registry ports.RoomRegistry
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	onSwept func(removed int)
}

func NewRoomService(registry ports.RoomRegistry, notifier ports.Notifier, logger *zap.SugaredLogger) *RoomService {
	return &RoomService{
		registry: registry,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *RoomService) Join(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, displayName string) error {
	if err := validation.ValidateRoomCode(string(code)); err != nil {
		return apperrors.NewInvalidInput(err.Error())
	}
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return apperrors.NewInvalidInput(err.Error())
	}

	res, err := s.registry.Join(ctx, code, connID, displayName)
	if err != nil {
		return err
	}

	// Switching rooms on one connection is an implicit leave; the old
	// room's members get the same fan-out as an explicit disconnect.
	if res.PreviousLeave != nil {
		s.announceLeave(ctx, res.PreviousLeave)
	}

	snapshot := protocol.RoomJoinedPayload{
		RoomCode: res.Room.Code,
		RoomName: res.Room.Name,
		MemberID: res.Member.ID,
		IsHost:   res.Member.IsHost,
		HostID:   res.Room.HostID,
		Members:  memberInfos(res.Room),
	}
	if err := s.notifier.Send(ctx, connID, protocol.TypeRoomJoined, snapshot); err != nil {
		s.logger.Warnw("failed to deliver room snapshot", "conn_id", connID, "error", err)
	}

	eventType := protocol.TypeMemberJoined
	if !res.IsNewMember {
		eventType = protocol.TypeMemberReconnected
	}
	s.broadcast(ctx, res.Room, res.Member.ID, eventType, protocol.MemberEventPayload{
		RoomCode: res.Room.Code,
		Member:   protocol.NewMemberInfo(res.Member),
	})

	s.logger.Infow("member joined room",
		"room_code", code,
		"member_id", res.Member.ID,
		"display_name", displayName,
		"is_new", res.IsNewMember,
		"is_host", res.Member.IsHost,
	)
	return nil
}

func (s *RoomService) HandleControl(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, kind domain.ControlKind, timePos, volume, speed *float64) error {
	room, member, err := s.memberInRoom(ctx, connID, code)
	if err != nil {
		return err
	}
	if !room.IsHost(member.ID) {
		return domain.ErrNotAuthorized
	}
	if !kind.Valid() {
		return apperrors.NewInvalidInput("unknown control kind")
	}

	event := domain.ControlEvent{
		Kind:      kind,
		Time:      timePos,
		Volume:    volume,
		Speed:     speed,
		MemberID:  member.ID,
		Timestamp: time.Now(),
	}
	// Sender excluded: control events never echo back.
	s.broadcast(ctx, room, member.ID, protocol.TypeControlEventReceived,
		protocol.NewControlEventReceived(code, event))

	if err := s.registry.Touch(ctx, code); err != nil {
		s.logger.Warnw("failed to touch room", "room_code", code, "error", err)
	}
	return nil
}

func (s *RoomService) HandleChat(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, text string) error {
	room, member, err := s.memberInRoom(ctx, connID, code)
	if err != nil {
		return err
	}
	if err := validation.ValidateChatText(text); err != nil {
		return apperrors.NewInvalidInput(err.Error())
	}

	msg := domain.ChatMessage{
		ID:          utils.GenerateMessageID(),
		MemberID:    member.ID,
		DisplayName: member.DisplayName,
		Text:        text,
		Timestamp:   time.Now(),
	}
	// Chat goes to every member including the sender, so the sender's UI
	// renders through the same path as everyone else's.
	s.broadcast(ctx, room, "", protocol.TypeChatMessageReceived,
		protocol.NewChatMessageReceived(code, msg))

	if err := s.registry.Touch(ctx, code); err != nil {
		s.logger.Warnw("failed to touch room", "room_code", code, "error", err)
	}
	return nil
}

func (s *RoomService) Disconnect(ctx context.Context, connID domain.ConnectionID) error {
	res, err := s.registry.Leave(ctx, connID)
	if err == domain.ErrMemberNotFound {
		// connection never joined a room
		return nil
	}
	if err != nil {
		return err
	}

	s.announceLeave(ctx, res)
	return nil
}

// announceLeave fans a registry leave out to the remaining room members:
// host-changed first when a promotion happened, then member-left.
func (s *RoomService) announceLeave(ctx context.Context, res *ports.LeaveResult) {
	if res.RoomClosed {
		s.logger.Infow("room destroyed", "room_code", res.Room.Code)
		return
	}

	if res.NewHost != nil {
		s.broadcast(ctx, res.Room, "", protocol.TypeHostChanged, protocol.HostChangedPayload{
			RoomCode:  res.Room.Code,
			NewHostID: res.NewHost.ID,
		})
		s.logger.Infow("host transferred",
			"room_code", res.Room.Code,
			"new_host_id", res.NewHost.ID,
		)
	}

	s.broadcast(ctx, res.Room, "", protocol.TypeMemberLeft, protocol.MemberLeftPayload{
		RoomCode:    res.Room.Code,
		MemberID:    res.Removed.ID,
		DisplayName: res.Removed.DisplayName,
	})
}

func (s *RoomService) RouteSignal(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, msgType string, target domain.MemberID, payload json.RawMessage) error {
	switch msgType {
	case protocol.TypeSignalOffer, protocol.TypeSignalAnswer, protocol.TypeSignalCandidate:
	default:
		return apperrors.NewInvalidInput("unknown signal type")
	}

	room, member, err := s.memberInRoom(ctx, connID, code)
	if err != nil {
		return err
	}
	targetMember, ok := room.Members[target]
	if !ok {
		return domain.ErrUserNotInRoom
	}

	forward := protocol.SignalForwardPayload{
		RoomCode:     code,
		FromMemberID: member.ID,
		Payload:      payload,
	}
	return s.notifier.Send(ctx, targetMember.ConnectionID, msgType, forward)
}

func (s *RoomService) RequestJoinStream(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode) error {
	room, member, err := s.memberInRoom(ctx, connID, code)
	if err != nil {
		return err
	}
	host := room.Host()
	if host == nil {
		return apperrors.NewInternal("room has no host")
	}

	req := protocol.JoinStreamRequestedPayload{
		RoomCode:      code,
		RequesterID:   member.ID,
		RequesterName: member.DisplayName,
	}
	return s.notifier.Send(ctx, host.ConnectionID, protocol.TypeJoinStreamRequested, req)
}

func (s *RoomService) SetStreaming(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, started bool, metadata json.RawMessage) error {
	room, member, err := s.memberInRoom(ctx, connID, code)
	if err != nil {
		return err
	}

	eventType := protocol.TypeStreamingStopped
	if started {
		eventType = protocol.TypeStreamingStarted
	}
	s.broadcast(ctx, room, member.ID, eventType, protocol.StreamingChangedPayload{
		RoomCode: code,
		MemberID: member.ID,
		Metadata: metadata,
	})

	if err := s.registry.Touch(ctx, code); err != nil {
		s.logger.Warnw("failed to touch room", "room_code", code, "error", err)
	}
	return nil
}

func (s *RoomService) RoomInfo(ctx context.Context, code domain.RoomCode) (*ports.RoomInfo, error) {
	room, err := s.registry.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ports.RoomInfo{
		Code:        room.Code,
		Name:        room.Name,
		MemberCount: len(room.Members),
		CreatedAt:   room.CreatedAt,
		LastActive:  room.LastActive,
	}, nil
}

func (s *RoomService) Stats(ctx context.Context) (*ports.ServiceStats, error) {
	rooms, members, err := s.registry.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &ports.ServiceStats{
		ActiveRooms: rooms,
		Members:     members,
		Connections: s.notifier.Connections(),
	}, nil
}

// SetSweepObserver registers a hook invoked with the number of rooms each
// sweep removed. Must be called before StartSweeper.
func (s *RoomService) SetSweepObserver(fn func(removed int)) {
	s.onSwept = fn
}

// StartSweeper runs the periodic inactivity sweep until the context is
// cancelled.
func (s *RoomService) StartSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.registry.Sweep(ctx, threshold)
			if err != nil {
				s.logger.Errorw("room sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Infow("swept inactive rooms", "removed", removed)
				if s.onSwept != nil {
					s.onSwept(removed)
				}
			}
		}
	}
}

// memberInRoom resolves the sender and checks it belongs to the named room.
func (s *RoomService) memberInRoom(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode) (*domain.Room, *domain.Member, error) {
	room, member, err := s.registry.MemberByConnection(ctx, connID)
	if err != nil {
		return nil, nil, domain.ErrUserNotInRoom
	}
	if room.Code != code {
		return nil, nil, domain.ErrUserNotInRoom
	}
	return room, member, nil
}

// broadcast sends payload to every room member except exclude. Delivery
// failures are logged, never propagated: one dead connection must not block
// the rest of the room.
func (s *RoomService) broadcast(ctx context.Context, room *domain.Room, exclude domain.MemberID, msgType string, payload interface{}) {
	for id, m := range room.Members {
		if id == exclude {
			continue
		}
		if err := s.notifier.Send(ctx, m.ConnectionID, msgType, payload); err != nil {
			s.logger.Warnw("failed to deliver event",
				"room_code", room.Code,
				"member_id", id,
				"type", msgType,
				"error", err,
			)
		}
	}
}

func memberInfos(room *domain.Room) []protocol.MemberInfo {
	infos := make([]protocol.MemberInfo, 0, len(room.Members))
	for _, m := range room.Members {
		infos = append(infos, protocol.NewMemberInfo(m))
	}
	return infos
}
