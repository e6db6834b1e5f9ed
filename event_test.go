package roomcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	testCases := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "event only", data: `{"event":"ping"}`},
		{name: "full envelope", data: `{"event":"chat-message","payload":{"text":"hi"},"ackId":"7"}`},
		{name: "empty frame", data: ``, wantErr: true},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "missing event name", data: `{"payload":1}`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tc.data))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, env.Event)
		})
	}
}

func TestEnvelopeRoundTripKeepsAckID(t *testing.T) {
	req := require.New(t)

	env := &Envelope{Event: "ping", Payload: mustJSON(t, map[string]int{"n": 1}), AckID: "42"}
	data, err := env.Encode()
	req.NoError(err)

	decoded, err := DecodeEnvelope(data)
	req.NoError(err)
	req.Equal("ping", decoded.Event)
	req.Equal("42", decoded.AckID)
	req.JSONEq(`{"n":1}`, string(decoded.Payload))
}

func TestReservedNames(t *testing.T) {
	assert.True(t, isReserved(EventConnect))
	assert.True(t, isReserved(EventDisconnect))
	assert.True(t, isReserved(EventError))
	assert.False(t, isReserved(EventUserLeft))
	assert.False(t, isReserved("chat-message"))
}
