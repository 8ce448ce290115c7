// Package admin is the operator's side of the poll engine: it creates
// sessions, toggles voting, resets tallies, ends sessions, and runs the
// per-session time-budget ticker. It is the only writer of session
// configuration; participants only ever touch tallies, and only through
// the tally transaction.
package admin

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
	"github.com/votefore/livepoll/internal/event"
	"github.com/votefore/livepoll/internal/poll"
	"github.com/votefore/livepoll/internal/receipt"
	"github.com/votefore/livepoll/internal/store"
	"github.com/votefore/livepoll/internal/telemetry"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus

	// Receipts is the durable archive, used only when a reset asks to
	// purge. Optional.
	Receipts *receipt.Service

	// TickInterval defaults to one second. Tests shorten it.
	TickInterval time.Duration
}

type Service struct {
	store    store.Store
	eb       *event.Bus
	receipts *receipt.Service
	tick     time.Duration

	mu      sync.Mutex
	tickers map[string]*ticker
	wg      sync.WaitGroup
}

// ticker identifies one ticking goroutine. The map entry holds the handle
// so teardown can tell its own registration apart from a replacement
// started by a later resume.
type ticker struct {
	cancel context.CancelFunc
}

func NewService(c Config) *Service {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}

	return &Service{
		store:    c.Store,
		eb:       c.EventBus,
		receipts: c.Receipts,
		tick:     c.TickInterval,
		tickers:  make(map[string]*ticker),
	}
}

type CreateSessionRequest struct {
	Question          string
	OptionLabels      []string
	TimeBudgetSeconds int64
}

// CreateSession validates the request and writes a fresh session record:
// active, all counts zero. A new poll is always a new record; option
// identities are never carried over or mutated in place.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	sess, err := poll.New(poll.NewSessionRequest{
		Question:          req.Question,
		OptionLabels:      req.OptionLabels,
		TimeBudgetSeconds: req.TimeBudgetSeconds,
	})
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}
	sess.SessionID = id.String()

	b, err := poll.Encode(sess)
	if err != nil {
		return nil, errors.Internal(err)
	}

	if err := s.store.Write(ctx, poll.SessionPath(sess.SessionID), b); err != nil {
		return nil, err
	}

	telemetry.SessionsCreated.Inc()
	s.eb.Publish(ctx, domain.EventSessionCreated{Session: *sess})

	if sess.TimeBudgetSeconds > 0 {
		s.startTicker(sess.SessionID)
	}

	slog.InfoContext(ctx, "admin: session created",
		"session", sess.SessionID, "options", len(sess.Options), "time_budget", sess.TimeBudgetSeconds)

	return sess, nil
}

// SetActive pauses or resumes voting. Resuming never happens
// automatically; an expired time budget stays expired even if the admin
// flips the flag back on.
func (s *Service) SetActive(ctx context.Context, sessionID string, active bool) (*domain.Session, error) {
	sess, err := s.transactSession(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		next := *cur
		next.IsActive = active
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	if active && sess.TimeBudgetSeconds > 0 && sess.TimeRemainingSeconds > 0 {
		s.startTicker(sessionID)
	}
	if !active {
		s.stopTicker(sessionID)
	}

	return sess, nil
}

type ResetVotesRequest struct {
	SessionID string

	// PurgeReceipts also drops the archived receipts. Destructive and
	// irreversible; confirmation belongs at the UI boundary, not here.
	PurgeReceipts bool
}

// ResetVotes zeroes every option count and the total as one atomic
// replacement, so no observer ever sees a partially reset tally.
func (s *Service) ResetVotes(ctx context.Context, req ResetVotesRequest) (*domain.Session, error) {
	sess, err := s.transactSession(ctx, req.SessionID, func(cur *domain.Session) (*domain.Session, error) {
		return poll.ResetTallies(cur), nil
	})
	if err != nil {
		return nil, err
	}

	if req.PurgeReceipts && s.receipts != nil {
		if err := s.receipts.PurgeReceipts(ctx, req.SessionID); err != nil {
			slog.ErrorContext(ctx, "admin: purge receipts failed", "session", req.SessionID, "error", err)
		}
	}

	return sess, nil
}

// EndSession removes the session record entirely. Every subscriber
// observes the absence and must treat the session as terminated; no
// further writes land on the path.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if _, err := s.store.Read(ctx, poll.SessionPath(sessionID)); err != nil {
		return err
	}

	s.stopTicker(sessionID)

	if err := s.store.Delete(ctx, poll.SessionPath(sessionID)); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventSessionEnded{SessionID: sessionID})
	slog.InfoContext(ctx, "admin: session ended", "session", sessionID)
	return nil
}

// Shutdown stops all time-budget tickers and waits for them to exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for id, tk := range s.tickers {
		tk.cancel()
		delete(s.tickers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) transactSession(ctx context.Context, sessionID string, fn func(*domain.Session) (*domain.Session, error)) (*domain.Session, error) {
	var committed *domain.Session

	_, err := s.store.Transact(ctx, poll.SessionPath(sessionID), func(cur []byte) ([]byte, error) {
		sess, err := poll.Decode(cur)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("admin: session %s not found", sessionID))
		}

		next, err := fn(sess)
		if err != nil {
			return nil, err
		}

		committed = next
		return poll.Encode(next)
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// errStopTicking aborts a tick transaction without writing anything, so a
// paused or untimed session does not get a spurious re-publish every second.
var errStopTicking = stderrors.New("admin: session no longer ticking")

func (s *Service) startTicker(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickers[sessionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &ticker{cancel: cancel}
	s.tickers[sessionID] = tk

	s.wg.Add(1)
	go s.runTicker(ctx, sessionID, tk)
}

func (s *Service) stopTicker(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tk, ok := s.tickers[sessionID]; ok {
		tk.cancel()
		delete(s.tickers, sessionID)
	}
}

// releaseTicker drops tk's own registration. A cancelled ticker can linger
// inside a tick transaction while a resume registers its replacement under
// the same session ID; teardown must never cancel a ticker it does not own.
func (s *Service) releaseTicker(sessionID string, tk *ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk.cancel()
	if s.tickers[sessionID] == tk {
		delete(s.tickers, sessionID)
	}
}

func (s *Service) runTicker(ctx context.Context, sessionID string, tk *ticker) {
	defer s.wg.Done()
	defer s.releaseTicker(sessionID, tk)

	t := time.NewTicker(s.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cont, err := s.tickOnce(ctx, sessionID)
			if err != nil {
				if errors.Convert(err).Code != errors.CodeNotFound {
					slog.ErrorContext(ctx, "admin: tick failed", "session", sessionID, "error", err)
				}
				return
			}
			if !cont {
				return
			}
		}
	}
}

// tickOnce burns one second of the session's time budget. The decrement
// and the expiry pause are one transaction: there is no window where the
// budget reads zero but the session still accepts votes.
func (s *Service) tickOnce(ctx context.Context, sessionID string) (bool, error) {
	var cont bool

	_, err := s.store.Transact(ctx, poll.SessionPath(sessionID), func(cur []byte) ([]byte, error) {
		sess, err := poll.Decode(cur)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("admin: session %s not found", sessionID))
		}

		next, c := poll.TickDown(sess)
		if next == sess {
			// unchanged, nothing to write
			return nil, errStopTicking
		}

		cont = c
		return poll.Encode(next)
	})
	if stderrors.Is(err, errStopTicking) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return cont, nil
}
