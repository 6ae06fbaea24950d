package protocol

import (
	"encoding/json"
	"testing"

	"syncroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"join-room","payload":{"room_code":"abc","display_name":"Alice"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoinRoom, env.Type)

	var p JoinRoomPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, domain.RoomCode("abc"), p.RoomCode)
	assert.Equal(t, "Alice", p.DisplayName)
}

func TestDecodeEnvelope_Rejections(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing type discriminator")
}

func TestEncode_RoundTrip(t *testing.T) {
	seek := 42.5
	frame, err := Encode(TypeControlEvent, ControlEventPayload{
		RoomCode: "abc",
		Kind:     domain.ControlSeek,
		Time:     &seek,
	})
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeControlEvent, env.Type)

	var p ControlEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, domain.ControlSeek, p.Kind)
	require.NotNil(t, p.Time)
	assert.Equal(t, 42.5, *p.Time)
	assert.Nil(t, p.Volume)
}

func TestChunkPayload_DataSurvivesEncoding(t *testing.T) {
	chunk := domain.Chunk{
		Index:    7,
		Data:     []byte{0x00, 0x01, 0xfe, 0xff},
		Size:     4,
		Checksum: "deadbeef",
		Last:     true,
	}
	frame, err := Encode(TypeChunk, ChunkPayload{Chunk: chunk})
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)

	var p ChunkPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, chunk, p.Chunk)
}
