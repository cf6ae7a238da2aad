package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/pkg/random"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

const (
	DefaultMaxRequests = 100
	DefaultKeyTTL      = time.Minute * 2
)

var (
	ErrEmptyPlaintext   = errors.New("session: plaintext is empty")
	ErrPlaintextTooBig  = errors.New("session: plaintext exceeds 512 bytes")
	ErrBudgetExhausted  = errors.New("session: request budget exhausted")
	ErrKeyExpired       = errors.New("session: key deadline has passed")
	ErrAlreadyGuessed   = errors.New("session: key has already been guessed")
)

type Opts struct {
	MaxRequests int
	KeyTTL      time.Duration
}

// Manager owns one connection's fixed 40-bit key and mints a fresh
// cipher session, under a fresh nonce, for every message. The key never
// leaves the manager; it can only be confirmed through CheckGuess.
type Manager struct {
	id       uuid.UUID
	key      uint64
	opts     Opts
	clock    clockwork.Clock
	deadline time.Time
	logger   *zerolog.Logger
	requests int
	guessed  bool
}

func GenerateKey() uint64 {
	return random.RandUint64() & subcipher.KeyMask
}

func NewManager(opts Opts, clock clockwork.Clock, logger *zerolog.Logger) *Manager {
	return NewManagerWithKey(GenerateKey(), opts, clock, logger)
}

func NewManagerWithKey(key uint64, opts Opts, clock clockwork.Clock, logger *zerolog.Logger) *Manager {
	if opts.MaxRequests == 0 {
		opts.MaxRequests = DefaultMaxRequests
	}
	if opts.KeyTTL == 0 {
		opts.KeyTTL = DefaultKeyTTL
	}
	m := &Manager{
		id:       uuid.New(),
		key:      key & subcipher.KeyMask,
		opts:     opts,
		clock:    clock,
		deadline: clock.Now().Add(opts.KeyTTL),
		logger:   logger,
	}
	logger.Debug().
		Stringer("session", m.id).Time("deadline", m.deadline).Int("budget", opts.MaxRequests).
		Msg("New session manager")
	return m
}

func (m *Manager) ID() uuid.UUID {
	return m.id
}

func (m *Manager) Remaining() int {
	return m.opts.MaxRequests - m.requests
}

// Encrypt runs one complete cipher session over the plaintext: fresh
// 256-byte nonce, table initialization, per-symbol encryption, teardown.
func (m *Manager) Encrypt(plaintext []byte) ([subcipher.NonceSize]byte, []byte, error) {
	var nonce [subcipher.NonceSize]byte
	switch {
	case m.guessed:
		return nonce, nil, ErrAlreadyGuessed
	case m.clock.Now().After(m.deadline):
		return nonce, nil, ErrKeyExpired
	case m.requests >= m.opts.MaxRequests:
		return nonce, nil, ErrBudgetExhausted
	case len(plaintext) == 0:
		return nonce, nil, ErrEmptyPlaintext
	case len(plaintext) > subcipher.MaxMessageSize:
		return nonce, nil, ErrPlaintextTooBig
	}
	m.requests++

	copy(nonce[:], random.RandBytes(subcipher.NonceSize))

	sess := subcipher.NewSession()
	if err := sess.Begin(m.key, nonce[:]); err != nil {
		return nonce, nil, err
	}
	ciphertext, err := sess.Encrypt(plaintext)
	if err != nil {
		return nonce, nil, err
	}
	if err := sess.End(); err != nil {
		return nonce, nil, err
	}

	m.logger.Debug().
		Stringer("session", m.id).Int("size", len(plaintext)).Int("remaining", m.Remaining()).
		Msg("Encrypted message")
	return nonce, ciphertext, nil
}

// CheckGuess compares the guess against the key. A session answers one
// guess for its lifetime, and only within the key deadline.
func (m *Manager) CheckGuess(guess uint64) (bool, error) {
	if m.guessed {
		return false, ErrAlreadyGuessed
	}
	if m.clock.Now().After(m.deadline) {
		return false, ErrKeyExpired
	}
	m.guessed = true
	return guess == m.key, nil
}
