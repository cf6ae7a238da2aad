package oracle

import (
	"context"

	"github.com/cardsharp/cardsharp/internal/session"
)

// Local serves oracle queries from an in-process session manager,
// bypassing the network. Lets the attack pipeline run without a
// server on the other end.
type Local struct {
	mgr *session.Manager
}

func NewLocal(mgr *session.Manager) *Local {
	return &Local{mgr: mgr}
}

func (l *Local) Query(_ context.Context, plaintext []byte) (Response, error) {
	nonce, ciphertext, err := l.mgr.Encrypt(plaintext)
	if err != nil {
		return Blank, err
	}
	return Response{Nonce: nonce, Ciphertext: ciphertext}, nil
}

func (l *Local) Guess(_ context.Context, key uint64) (bool, error) {
	return l.mgr.CheckGuess(key)
}
