package oracleserver

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/internal/session"
	"github.com/cardsharp/cardsharp/pkg/wire"
)

type Opts struct {
	Session session.Opts
	// KeyFunc overrides key generation; tests inject a known key here.
	KeyFunc func() uint64
}

// Service answers oracle requests on accepted connections. Each
// connection gets its own fixed 40-bit key; a guess request settles the
// connection either way.
type Service struct {
	opts    Opts
	clock   clockwork.Clock
	metrics *metrics.Collector
	logger  *zerolog.Logger
}

func New(opts Opts, clock clockwork.Clock, collector *metrics.Collector, logger *zerolog.Logger) *Service {
	if opts.KeyFunc == nil {
		opts.KeyFunc = session.GenerateKey
	}
	return &Service{
		opts:    opts,
		clock:   clock,
		metrics: collector,
		logger:  logger,
	}
}

func (s *Service) Handle(_ context.Context, conn *net.TCPConn) {
	defer conn.Close()

	mgr := session.NewManagerWithKey(s.opts.KeyFunc(), s.opts.Session, s.clock, s.logger)
	s.logger.Info().
		Stringer("src", conn.RemoteAddr()).Stringer("session", mgr.ID()).
		Msg("New oracle connection")

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			s.closeWith(mgr, classifyReadError(err))
			return
		}
		switch req.Type {
		case wire.TypeEncrypt:
			if !s.handleEncrypt(conn, mgr, req.Payload) {
				return
			}
		case wire.TypeGuess:
			s.handleGuess(conn, mgr, req.Payload)
			return
		}
	}
}

func (s *Service) handleEncrypt(conn *net.TCPConn, mgr *session.Manager, plaintext []byte) bool {
	nonce, ciphertext, err := mgr.Encrypt(plaintext)
	if err != nil {
		s.closeWith(mgr, reasonFor(err))
		return false
	}
	s.metrics.ServiceSessions.Inc()
	s.metrics.ServiceBytes.Add(float64(len(plaintext)))
	if err := wire.WriteEncryptResponse(conn, nonce, ciphertext); err != nil {
		s.closeWith(mgr, "write")
		return false
	}
	return true
}

func (s *Service) handleGuess(conn *net.TCPConn, mgr *session.Manager, payload []byte) {
	key, err := wire.DecodeKey(payload)
	if err != nil {
		s.closeWith(mgr, "bad_request")
		return
	}
	match, err := mgr.CheckGuess(key)
	if err != nil {
		s.closeWith(mgr, reasonFor(err))
		return
	}
	verdict := "miss"
	if match {
		verdict = "match"
	}
	s.metrics.ServiceGuesses.WithLabelValues(verdict).Inc()
	s.logger.Info().
		Stringer("session", mgr.ID()).Str("verdict", verdict).
		Msg("Key guess settled")
	if err := wire.WriteGuessResponse(conn, match); err != nil {
		s.closeWith(mgr, "write")
	}
}

func (s *Service) closeWith(mgr *session.Manager, reason string) {
	s.metrics.ServiceTerminations.WithLabelValues(reason).Inc()
	s.logger.Info().
		Stringer("session", mgr.ID()).Str("reason", reason).
		Msg("Closing oracle connection")
}

func classifyReadError(err error) string {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, wire.ErrEmptyPayload),
		errors.Is(err, wire.ErrPayloadTooBig),
		errors.Is(err, wire.ErrBadKeyPayload),
		errors.Is(err, wire.ErrUnknownType):
		return "bad_request"
	default:
		return "read"
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, session.ErrBudgetExhausted):
		return "budget"
	case errors.Is(err, session.ErrKeyExpired):
		return "expired"
	case errors.Is(err, session.ErrAlreadyGuessed):
		return "guessed"
	case errors.Is(err, session.ErrEmptyPlaintext), errors.Is(err, session.ErrPlaintextTooBig):
		return "bad_request"
	default:
		return "error"
	}
}
