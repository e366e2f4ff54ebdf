// Package server defines the JSON envelope exchanged with clients and the
// control payloads the relay pushes back. The relay never inspects payload
// contents; encrypted blobs pass through as raw JSON.
package server

import (
	"encoding/json"
	"errors"

	"github.com/loomchat/relay/internal/groups"
)

// Client → server control types.
const (
	TypeRegisterAccount = "registerAccount"
	TypeLogin           = "login"
	TypeLogout          = "logout"
	TypeUpdatePublicKey = "updatePublicKey"
	TypeCreateGroup     = "create-group"
	TypeJoinGroup       = "join-group"
	TypeLeaveGroup      = "leave-group"
)

// Forwardable types, passed through opaquely after the sender is re-tagged.
const (
	TypeMessage      = "message"
	TypeImage        = "image"
	TypeGroupMessage = "group-message"
	TypeCallOffer    = "call-offer"
	TypeCallAnswer   = "call-answer"
	TypeICECandidate = "ice-candidate"
	TypeHangup       = "hangup"
	TypeRing         = "ring"
	TypeRingStop     = "ring-stop"
)

// Server → client control types.
const (
	TypeAuth   = "auth"
	TypeUsers  = "users"
	TypeGroups = "groups"
)

// Auth phases reported in auth control envelopes.
const (
	PhaseRegister = "register"
	PhaseLogin    = "login"
)

// Machine-readable reason codes for auth control envelopes.
const (
	ReasonUsernameTaken  = "username-taken"
	ReasonInvalidInput   = "invalid-input"
	ReasonBadCredentials = "bad-credentials"
)

// ErrMalformedEnvelope is returned when an inbound frame cannot be decoded
// into an envelope with a type tag.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the single routed message unit. It is the flat union of every
// recognized message kind; which fields are meaningful depends on Type.
// Payload, Offer, Answer, Candidate and PublicKey are opaque to the relay.
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Group     string          `json:"group,omitempty"`
	Name      string          `json:"name,omitempty"`
	Username  string          `json:"username,omitempty"`
	Password  string          `json:"password,omitempty"`
	PublicKey json.RawMessage `json:"publicKey,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Mode      string          `json:"mode,omitempty"`
}

// DecodeEnvelope parses one inbound frame. Frames that are not JSON objects
// or carry no type tag are malformed; unknown type tags are left for the
// dispatch layer to drop, so newer clients do not break the connection.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	if env.Type == "" {
		return Envelope{}, ErrMalformedEnvelope
	}
	return env, nil
}

// directForwardable reports whether t is forwarded by destination lookup.
// group-message is deliberately excluded: it resolves purely through its
// explicit group field.
func directForwardable(t string) bool {
	switch t {
	case TypeMessage, TypeImage, TypeCallOffer, TypeCallAnswer,
		TypeICECandidate, TypeHangup, TypeRing, TypeRingStop:
		return true
	}
	return false
}

// forwardFrame re-tags env with the authenticated sender and strips the
// credential fields a client might have smuggled in, then marshals the frame
// delivered to destinations.
func forwardFrame(env Envelope, sender string) []byte {
	env.From = sender
	env.Username = ""
	env.Password = ""
	env.Name = ""
	frame, err := json.Marshal(env)
	if err != nil {
		// Envelope contains only marshalable fields; this cannot fail.
		return nil
	}
	return frame
}

// UserEntry is one element of a presence announcement.
type UserEntry struct {
	Username  string          `json:"username"`
	PublicKey json.RawMessage `json:"publicKey"`
}

type authPayload struct {
	Type     string `json:"type"`
	Phase    string `json:"phase"`
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Username string `json:"username,omitempty"`
}

type usersPayload struct {
	Type  string      `json:"type"`
	Users []UserEntry `json:"users"`
}

type groupsPayload struct {
	Type   string         `json:"type"`
	Groups []groups.Group `json:"groups"`
}

func marshalAuth(phase string, ok bool, reason, username string) []byte {
	frame, _ := json.Marshal(authPayload{
		Type:     TypeAuth,
		Phase:    phase,
		OK:       ok,
		Reason:   reason,
		Username: username,
	})
	return frame
}

func marshalUsers(users []UserEntry) []byte {
	if users == nil {
		users = []UserEntry{}
	}
	frame, _ := json.Marshal(usersPayload{Type: TypeUsers, Users: users})
	return frame
}

func marshalGroups(list []groups.Group) []byte {
	if list == nil {
		list = []groups.Group{}
	}
	frame, _ := json.Marshal(groupsPayload{Type: TypeGroups, Groups: list})
	return frame
}
