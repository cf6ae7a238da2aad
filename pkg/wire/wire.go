// Package wire implements the length-framed oracle protocol.
//
// A request is a single type byte followed by a big-endian uint16
// payload length and the payload itself. An encrypt request carries
// 1-512 bytes of plaintext and is answered with a 256-byte nonce
// followed by a ciphertext of the same length as the plaintext. A guess
// request carries a 40-bit key in 5 big-endian bytes and is answered
// with a single verdict byte, after which the connection is closed.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	TypeEncrypt = 0x01
	TypeGuess   = 0x02

	NonceSize  = 256
	MaxPayload = 512
	KeySize    = 5

	VerdictMiss  = 0x00
	VerdictMatch = 0x01

	headerSize = 3
)

var (
	ErrUnknownType    = errors.New("wire: unknown request type")
	ErrEmptyPayload   = errors.New("wire: request payload is empty")
	ErrPayloadTooBig  = errors.New("wire: request payload exceeds 512 bytes")
	ErrBadKeyPayload  = errors.New("wire: guess payload must be exactly 5 bytes")
	ErrBadVerdictByte = errors.New("wire: unexpected verdict byte")
)

type Request struct {
	Type    byte
	Payload []byte
}

func WriteRequest(w io.Writer, req Request) error {
	buf := make([]byte, headerSize+len(req.Payload))
	buf[0] = req.Type
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(req.Payload)))
	copy(buf[headerSize:], req.Payload)
	_, err := w.Write(buf)
	return err
}

func ReadRequest(r io.Reader) (Request, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Request{}, err
	}
	req := Request{Type: header[0]}
	size := int(binary.BigEndian.Uint16(header[1:3]))
	switch req.Type {
	case TypeEncrypt:
		if size == 0 {
			return Request{}, ErrEmptyPayload
		}
		if size > MaxPayload {
			return Request{}, ErrPayloadTooBig
		}
	case TypeGuess:
		if size != KeySize {
			return Request{}, ErrBadKeyPayload
		}
	default:
		return Request{}, ErrUnknownType
	}
	req.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, req.Payload); err != nil {
		return Request{}, err
	}
	return req, nil
}

func EncodeKey(key uint64) []byte {
	payload := make([]byte, KeySize)
	payload[0] = byte(key >> 32)
	binary.BigEndian.PutUint32(payload[1:], uint32(key))
	return payload
}

func DecodeKey(payload []byte) (uint64, error) {
	if len(payload) != KeySize {
		return 0, ErrBadKeyPayload
	}
	return uint64(payload[0])<<32 | uint64(binary.BigEndian.Uint32(payload[1:])), nil
}

func WriteEncryptResponse(w io.Writer, nonce [NonceSize]byte, ciphertext []byte) error {
	if _, err := w.Write(nonce[:]); err != nil {
		return err
	}
	_, err := w.Write(ciphertext)
	return err
}

func ReadEncryptResponse(r io.Reader, size int) ([NonceSize]byte, []byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nonce, nil, err
	}
	ciphertext := make([]byte, size)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nonce, nil, err
	}
	return nonce, ciphertext, nil
}

func WriteGuessResponse(w io.Writer, match bool) error {
	verdict := byte(VerdictMiss)
	if match {
		verdict = VerdictMatch
	}
	_, err := w.Write([]byte{verdict})
	return err
}

func ReadGuessResponse(r io.Reader) (bool, error) {
	var verdict [1]byte
	if _, err := io.ReadFull(r, verdict[:]); err != nil {
		return false, err
	}
	switch verdict[0] {
	case VerdictMatch:
		return true, nil
	case VerdictMiss:
		return false, nil
	default:
		return false, ErrBadVerdictByte
	}
}
