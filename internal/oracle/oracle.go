package oracle

import (
	"context"

	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

// Oracle is the chosen-plaintext collaborator the attack drives: every
// query is encrypted under the connection's fixed key inside a fresh
// session, and a single key guess settles the connection.
type Oracle interface {
	Query(ctx context.Context, plaintext []byte) (Response, error)
	Guess(ctx context.Context, key uint64) (bool, error)
}

type Response struct {
	Nonce      [subcipher.NonceSize]byte
	Ciphertext []byte
}

var Blank Response // nolint: gochecknoglobals
