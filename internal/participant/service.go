// Package participant is the audience side of the poll engine: observing
// live tallies and casting exactly one vote. Acceptance is decided inside
// the store transaction against the session value current at commit time,
// never against a snapshot the client happens to hold.
package participant

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
	"github.com/votefore/livepoll/internal/event"
	"github.com/votefore/livepoll/internal/marker"
	"github.com/votefore/livepoll/internal/poll"
	"github.com/votefore/livepoll/internal/store"
	"github.com/votefore/livepoll/internal/telemetry"
)

type Config struct {
	Store    store.Store
	Markers  marker.Store
	EventBus *event.Bus
}

type Service struct {
	store   store.Store
	markers marker.Store
	eb      *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store:   c.Store,
		markers: c.Markers,
		eb:      c.EventBus,
	}
}

// GetSession returns the current session value, with the displayed total
// recomputed from the option counts.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	b, err := s.store.Read(ctx, poll.SessionPath(sessionID))
	if err != nil {
		return nil, err
	}

	sess, err := poll.Decode(b)
	if err != nil {
		return nil, errors.Internal(err)
	}

	sess.TotalVotes = poll.Recount(sess)
	return sess, nil
}

// LiveView is a cancellable stream of session snapshots. A nil session
// means the record is absent: never created, or ended by the admin. The
// consumer must treat that as terminal.
type LiveView struct {
	sessions chan *domain.Session
	sub      *store.Subscription
}

func (v *LiveView) Sessions() <-chan *domain.Session {
	return v.sessions
}

func (v *LiveView) Close() {
	v.sub.Close()
}

// Observe subscribes to a session. The current value arrives first, then
// every committed change in commit order, each one a full replacement.
func (s *Service) Observe(ctx context.Context, sessionID string) (*LiveView, error) {
	sub, err := s.store.Subscribe(ctx, poll.SessionPath(sessionID))
	if err != nil {
		return nil, err
	}

	v := &LiveView{
		sessions: make(chan *domain.Session),
		sub:      sub,
	}

	go func() {
		defer close(v.sessions)

		for snap := range sub.Snapshots() {
			if !snap.Exists {
				select {
				case v.sessions <- nil:
				case <-ctx.Done():
					return
				}
				continue
			}

			sess, err := poll.Decode(snap.Value)
			if err != nil {
				slog.ErrorContext(ctx, "participant: bad session snapshot", "session", sessionID, "error", err)
				continue
			}
			sess.TotalVotes = poll.Recount(sess)

			select {
			case v.sessions <- sess:
			case <-ctx.Done():
				return
			}
		}
	}()

	return v, nil
}

type CastVoteRequest struct {
	SessionID string
	OptionID  string

	// ParticipantHandle is the voter's self-reported identity, typically
	// an email. Opaque and unverified.
	ParticipantHandle string

	// SessionCreatedAt is the creation timestamp from the snapshot the
	// client is looking at. Used to spot a vote marker left behind by an
	// earlier session that reused this ID. Zero means unknown.
	SessionCreatedAt int64
}

// CastVote accepts at most one vote per local client. The order matters:
// the local marker is checked before any store contact, the tally
// transaction decides acceptance, and only a committed vote writes the
// marker, so a failed vote stays visibly uncast.
func (s *Service) CastVote(ctx context.Context, req CastVoteRequest) (*domain.Receipt, error) {
	if m, ok, err := s.markers.Get(req.SessionID); err != nil {
		return nil, errors.Internal(err)
	} else if ok {
		if req.SessionCreatedAt != 0 && m.CreatedAt != 0 && m.CreatedAt != req.SessionCreatedAt {
			// marker belongs to a previous session under the same ID
			if err := s.markers.Delete(req.SessionID); err != nil {
				return nil, errors.Internal(err)
			}
		} else {
			telemetry.VotesRejected.WithLabelValues("already_voted").Inc()
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("participant: already voted in session %s", req.SessionID))
		}
	}

	committed, err := s.transactVote(ctx, req.SessionID, req.OptionID)
	if err != nil {
		telemetry.VotesRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	receiptID, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	rec := &domain.Receipt{
		ReceiptID:         receiptID.String(),
		SessionID:         req.SessionID,
		ParticipantHandle: req.ParticipantHandle,
		OptionID:          req.OptionID,
		OptionLabel:       committed.FindOption(req.OptionID).Label,
		CastAt:            time.Now().UnixMilli(),
	}

	if err := s.appendReceipt(ctx, rec); err != nil {
		// the vote is already counted; losing the receipt is not a failed vote
		slog.ErrorContext(ctx, "participant: append receipt failed", "session", req.SessionID, "error", err)
	}

	if err := s.markers.Set(req.SessionID, marker.Marker{
		OptionID:  req.OptionID,
		CreatedAt: committed.CreatedAt,
	}); err != nil {
		slog.ErrorContext(ctx, "participant: write vote marker failed", "session", req.SessionID, "error", err)
	}

	telemetry.VotesAccepted.Inc()
	s.eb.Publish(ctx, domain.EventVoteAccepted{Receipt: *rec})

	return rec, nil
}

// transactVote runs the tally transition against the store. The transition
// itself is pure; the adapter re-invokes it with the latest committed value
// when another voter gets there first.
func (s *Service) transactVote(ctx context.Context, sessionID, optionID string) (*domain.Session, error) {
	var committed *domain.Session

	_, err := s.store.Transact(ctx, poll.SessionPath(sessionID), func(cur []byte) ([]byte, error) {
		sess, err := poll.Decode(cur)
		if err != nil {
			return nil, err
		}

		next, err := poll.ApplyVote(sess, optionID)
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

func (s *Service) appendReceipt(ctx context.Context, rec *domain.Receipt) error {
	b, err := poll.EncodeReceipt(rec)
	if err != nil {
		return err
	}

	return s.store.Write(ctx, poll.ReceiptPath(rec.SessionID, rec.ReceiptID), b)
}

func rejectionReason(err error) string {
	switch errors.Convert(err).Code {
	case errors.CodeNotFound:
		return "not_found"
	case errors.CodeFailedPrecondition:
		return "inactive"
	case errors.CodeAborted:
		return "contention"
	default:
		return "internal"
	}
}
