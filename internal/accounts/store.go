// Package accounts implements the in-memory account store used to gate
// relay access. Passwords are never kept; each account stores a random salt
// and an Argon2id verifier derived from it.
package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrUsernameTaken is returned when registering a username that already exists.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidInput is returned when the username or password is empty after trimming.
	ErrInvalidInput = errors.New("username and password must not be empty")
)

const saltSize = 16

// KDFParams configures the Argon2id derivation used for password verifiers.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultKDFParams returns the verifier derivation parameters used unless
// overridden through configuration.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
	}
}

func (p KDFParams) sanitized() KDFParams {
	d := DefaultKDFParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = d.KeyLen
	}
	return p
}

type account struct {
	salt     []byte
	verifier []byte
}

// Store holds registered accounts. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byName map[string]account
	params KDFParams

	// dummy is a precomputed verifier checked against unknown usernames so
	// that Verify takes the same time whether or not the account exists.
	dummySalt     []byte
	dummyVerifier []byte
}

// NewStore creates an empty account store using the given KDF parameters.
func NewStore(params KDFParams) *Store {
	p := params.sanitized()
	salt := newSalt()
	return &Store{
		byName:        make(map[string]account),
		params:        p,
		dummySalt:     salt,
		dummyVerifier: derive("", salt, p),
	}
}

func newSalt() []byte {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		// rand.Read only fails when the platform entropy source is broken,
		// at which point the process cannot do anything useful.
		panic(fmt.Sprintf("accounts: reading random salt: %v", err))
	}
	return salt
}

func derive(password string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// Register creates an account for username. It fails with ErrInvalidInput if
// the username or password is empty after trimming, and with ErrUsernameTaken
// if the username is already registered. Usernames are case-sensitive.
func (s *Store) Register(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return ErrInvalidInput
	}

	// Derive before locking; the KDF is the slow part and must not serialize
	// unrelated operations on the store.
	salt := newSalt()
	verifier := derive(password, salt, s.params)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return ErrUsernameTaken
	}
	s.byName[username] = account{salt: salt, verifier: verifier}
	return nil
}

// Verify reports whether password matches the stored verifier for username.
// Unknown usernames are checked against a dummy verifier so the caller's
// response time does not reveal whether the account exists.
func (s *Store) Verify(username, password string) bool {
	username = strings.TrimSpace(username)

	s.mu.RLock()
	acct, exists := s.byName[username]
	s.mu.RUnlock()

	salt, verifier := acct.salt, acct.verifier
	if !exists {
		salt, verifier = s.dummySalt, s.dummyVerifier
	}

	candidate := derive(password, salt, s.params)
	match := subtle.ConstantTimeCompare(verifier, candidate) == 1
	return exists && match
}

// Exists reports whether username is registered.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[strings.TrimSpace(username)]
	return ok
}
