package subcipher

import (
	"errors"

	"github.com/cardsharp/cardsharp/pkg/lfsr"
)

const (
	KeyBits = 40
	KeyMask = uint64(1)<<KeyBits - 1

	NonceSize      = 256
	MaxMessageSize = 512

	Width17 = 17
	Width32 = 32

	// Seed32Prefix occupies the top 8 bits of the 32-bit register seed,
	// guaranteeing a non-zero state regardless of the key material.
	Seed32Prefix = 0x5A

	// InitDraws is the number of byte pairs drawn from the registers
	// before the first symbol is processed: 255 shuffle steps plus the
	// 256-position nonce pass.
	InitDraws = 255 + 256
)

// Maximal-length tap sets for the two register widths.
var (
	Taps17 = []int{16, 13}       // x^17 + x^14 + 1
	Taps32 = []int{31, 21, 1, 0} // x^32 + x^22 + x^2 + x + 1
)

var (
	ErrInvalidKey           = errors.New("subcipher: key exceeds 40 bits")
	ErrInvalidNonce         = errors.New("subcipher: nonce must be exactly 256 bytes")
	ErrSessionNotActive     = errors.New("subcipher: session is not active")
	ErrSessionAlreadyActive = errors.New("subcipher: session is already active")
)

// Seed17FromKey derives the 17-bit register seed from the low 16 key
// bits, with bit 16 forced to keep the register out of the zero state.
func Seed17FromKey(key uint64) uint32 {
	return uint32(key&0xffff) | 1<<16
}

// Seed32FromKey derives the 32-bit register seed from the high 24 key
// bits under the fixed prefix.
func Seed32FromKey(key uint64) uint32 {
	return uint32(key>>16)&0xffffff | Seed32Prefix<<24
}

// KeyFromSeeds reverses the key split: the prefix byte of the 32-bit
// seed and the forced bit of the 17-bit seed are discarded.
func KeyFromSeeds(seed17, seed32 uint32) uint64 {
	return uint64(seed32&0xffffff)<<16 | uint64(seed17&0xffff)
}

// Session binds the two live registers to one substitution table pair.
// The forward table and its inverse are only ever mutated together, so
// they remain exact inverses between any two operations.
type Session struct {
	reg17   *lfsr.Register
	reg32   *lfsr.Register
	forward [256]byte
	inverse [256]byte
	active  bool
}

func NewSession() *Session {
	return &Session{}
}

// Begin derives the registers from the key, builds the table from an
// identity permutation via a descending shuffle, then folds the nonce in
// with a second pass. The shuffle draw is reduced modulo (i+1) without
// rejection sampling; the resulting low-index bias is part of the cipher.
func (s *Session) Begin(key uint64, nonce []byte) error {
	if s.active {
		return ErrSessionAlreadyActive
	}
	if key > KeyMask {
		return ErrInvalidKey
	}
	if len(nonce) != NonceSize {
		return ErrInvalidNonce
	}

	reg17, err := lfsr.New(Seed17FromKey(key), Taps17, Width17)
	if err != nil {
		return err
	}
	reg32, err := lfsr.New(Seed32FromKey(key), Taps32, Width32)
	if err != nil {
		return err
	}
	s.reg17, s.reg32 = reg17, reg32

	for i := range s.forward {
		s.forward[i] = byte(i)
	}
	for i := 255; i >= 1; i-- {
		j := int(s.draw()) % (i + 1)
		s.forward[i], s.forward[j] = s.forward[j], s.forward[i]
	}
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + int(s.draw()) + int(s.forward[i]) + int(nonce[i])) & 0xff
		s.forward[i], s.forward[j] = s.forward[j], s.forward[i]
	}
	for i, v := range s.forward {
		s.inverse[v] = byte(i)
	}

	s.active = true
	return nil
}

func (s *Session) EncryptSymbol(v byte) (byte, error) {
	if !s.active {
		return 0, ErrSessionNotActive
	}
	c := s.forward[v]
	s.update(v)
	return c, nil
}

// DecryptSymbol recovers the plaintext symbol first and feeds that
// recovered value into the table update. Updating on the ciphertext
// byte instead would silently desynchronize the two directions.
func (s *Session) DecryptSymbol(c byte) (byte, error) {
	if !s.active {
		return 0, ErrSessionNotActive
	}
	v := s.inverse[c]
	s.update(v)
	return v, nil
}

func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, v := range plaintext {
		c, err := s.EncryptSymbol(v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	for i, c := range ciphertext {
		v, err := s.DecryptSymbol(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Session) End() error {
	if !s.active {
		return ErrSessionNotActive
	}
	s.reg17, s.reg32 = nil, nil
	s.active = false
	return nil
}

func (s *Session) draw() byte {
	return s.reg17.NextByte() ^ s.reg32.NextByte()
}

// update swaps the table entries at the symbol value and a fresh
// register draw. When the draw equals the symbol the swap is a no-op,
// leaving the table unchanged for the next position.
func (s *Session) update(v byte) {
	i := s.draw()
	s.forward[v], s.forward[i] = s.forward[i], s.forward[v]
	s.inverse[s.forward[v]] = v
	s.inverse[s.forward[i]] = i
}

// Table returns a copy of the forward permutation. Test hook.
func (s *Session) Table() [256]byte {
	return s.forward
}

// InverseTable returns a copy of the inverse permutation. Test hook.
func (s *Session) InverseTable() [256]byte {
	return s.inverse
}
