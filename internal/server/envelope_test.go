package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/relay/internal/groups"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"login","username":"alice","password":"pw1","publicKey":{"kty":"EC"}}`))
	require.NoError(t, err)

	assert.Equal(t, TypeLogin, env.Type)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "pw1", env.Password)
	assert.JSONEq(t, `{"kty":"EC"}`, string(env.PublicKey))
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"not object":   `[1,2,3]`,
		"missing type": `{"to":"bob"}`,
		"empty":        ``,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestDecodeEnvelopeUnknownTypeIsNotMalformed(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"telepathy","to":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, "telepathy", env.Type)
}

func TestDirectForwardable(t *testing.T) {
	for _, typ := range []string{
		TypeMessage, TypeImage, TypeCallOffer, TypeCallAnswer,
		TypeICECandidate, TypeHangup, TypeRing, TypeRingStop,
	} {
		assert.True(t, directForwardable(typ), typ)
	}
	for _, typ := range []string{
		TypeGroupMessage, TypeLogin, TypeLogout, TypeRegisterAccount,
		TypeUpdatePublicKey, TypeCreateGroup, "telepathy", "",
	} {
		assert.False(t, directForwardable(typ), typ)
	}
}

func TestForwardFrameRetagsSender(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"message","to":"bob","from":"mallory","username":"x","password":"y","payload":{"ct":"opaque"}}`))
	require.NoError(t, err)

	frame := forwardFrame(env, "alice")
	require.NotNil(t, frame)

	var out map[string]any
	require.NoError(t, json.Unmarshal(frame, &out))
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "alice", out["from"])
	assert.Equal(t, "bob", out["to"])
	assert.Equal(t, map[string]any{"ct": "opaque"}, out["payload"])
	assert.NotContains(t, out, "username")
	assert.NotContains(t, out, "password")
}

func TestForwardFramePreservesSignalingFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"call-offer","to":"bob","offer":{"sdp":"v=0"},"mode":"video"}`))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(forwardFrame(env, "alice"), &out))
	assert.Equal(t, "call-offer", out["type"])
	assert.Equal(t, "video", out["mode"])
	assert.Equal(t, map[string]any{"sdp": "v=0"}, out["offer"])
}

func TestMarshalAuth(t *testing.T) {
	var out map[string]any

	require.NoError(t, json.Unmarshal(marshalAuth(PhaseLogin, true, "", "alice"), &out))
	assert.Equal(t, "auth", out["type"])
	assert.Equal(t, "login", out["phase"])
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "alice", out["username"])
	assert.NotContains(t, out, "reason")

	out = nil
	require.NoError(t, json.Unmarshal(marshalAuth(PhaseRegister, false, ReasonUsernameTaken, ""), &out))
	assert.Equal(t, "register", out["phase"])
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "username-taken", out["reason"])
	assert.NotContains(t, out, "username")
}

func TestMarshalUsers(t *testing.T) {
	frame := marshalUsers([]UserEntry{
		{Username: "alice", PublicKey: json.RawMessage(`{"kty":"EC"}`)},
		{Username: "bob"},
	})
	assert.JSONEq(t,
		`{"type":"users","users":[{"username":"alice","publicKey":{"kty":"EC"}},{"username":"bob","publicKey":null}]}`,
		string(frame))

	// An empty registry still announces an empty list, not null.
	assert.JSONEq(t, `{"type":"users","users":[]}`, string(marshalUsers(nil)))
}

func TestMarshalGroups(t *testing.T) {
	frame := marshalGroups([]groups.Group{{Name: "devs", Members: []string{"alice", "bob"}}})
	assert.JSONEq(t,
		`{"type":"groups","groups":[{"name":"devs","members":["alice","bob"]}]}`,
		string(frame))

	assert.JSONEq(t, `{"type":"groups","groups":[]}`, string(marshalGroups(nil)))
}
