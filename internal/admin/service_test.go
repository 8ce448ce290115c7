package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefore/livepoll/internal/admin"
	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
	"github.com/votefore/livepoll/internal/event"
	"github.com/votefore/livepoll/internal/poll"
	"github.com/votefore/livepoll/internal/store"
)

func TestService_CreateSession(t *testing.T) {
	tests := map[string]struct {
		arrange func() admin.CreateSessionRequest
		assert  func(t *testing.T, f *fixture, s *domain.Session, err error)
	}{
		"a valid request should write an active session to the store": {
			arrange: func() admin.CreateSessionRequest {
				return admin.CreateSessionRequest{
					Question:     "Next track?",
					OptionLabels: []string{"A", "B"},
				}
			},

			assert: func(t *testing.T, f *fixture, s *domain.Session, err error) {
				require.NoError(t, err)
				require.NotEmpty(t, s.SessionID)

				stored := f.readSession(t, s.SessionID)
				assert.True(t, stored.IsActive)
				assert.EqualValues(t, 0, stored.TotalVotes)
				require.Len(t, stored.Options, 2)
			},
		},

		"an empty question should be rejected before any write": {
			arrange: func() admin.CreateSessionRequest {
				return admin.CreateSessionRequest{
					Question:     "",
					OptionLabels: []string{"A", "B"},
				}
			},

			assert: func(t *testing.T, _ *fixture, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			},
		},

		"fewer than two non-empty options should be rejected": {
			arrange: func() admin.CreateSessionRequest {
				return admin.CreateSessionRequest{
					Question:     "Next track?",
					OptionLabels: []string{"A", " "},
				}
			},

			assert: func(t *testing.T, _ *fixture, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeFixture(t)
			s, err := f.admin.CreateSession(context.Background(), tt.arrange())
			tt.assert(t, f, s, err)
		})
	}
}

func TestService_SetActive(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:     "Next track?",
		OptionLabels: []string{"A", "B"},
	})
	require.NoError(t, err)

	paused, err := f.admin.SetActive(ctx, s.SessionID, false)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	assert.False(t, f.readSession(t, s.SessionID).IsActive)

	resumed, err := f.admin.SetActive(ctx, s.SessionID, true)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
}

func TestService_SetActive_SessionNotFound(t *testing.T) {
	f := makeFixture(t)

	_, err := f.admin.SetActive(context.Background(), "nope", false)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestService_ResetVotes(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:     "Next track?",
		OptionLabels: []string{"A", "B"},
	})
	require.NoError(t, err)

	f.castVotes(t, s.SessionID, "opt-1", 3)
	f.castVotes(t, s.SessionID, "opt-2", 2)

	reset, err := f.admin.ResetVotes(ctx, admin.ResetVotesRequest{SessionID: s.SessionID})
	require.NoError(t, err)

	for _, o := range reset.Options {
		assert.EqualValues(t, 0, o.Count)
	}
	assert.EqualValues(t, 0, reset.TotalVotes)

	// a vote after reset counts from a clean slate
	f.castVotes(t, s.SessionID, "opt-1", 1)
	assert.EqualValues(t, 1, f.readSession(t, s.SessionID).TotalVotes)
}

func TestService_EndSession(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:     "Next track?",
		OptionLabels: []string{"A", "B"},
	})
	require.NoError(t, err)

	require.NoError(t, f.admin.EndSession(ctx, s.SessionID))

	_, err = f.store.Read(ctx, poll.SessionPath(s.SessionID))
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	err = f.admin.EndSession(ctx, s.SessionID)
	require.Error(t, err, "ending twice should report the absence")
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestService_TimeBudgetExpiry(t *testing.T) {
	f := makeFixture(t, withTickInterval(5*time.Millisecond))
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:          "Next track?",
		OptionLabels:      []string{"A", "B"},
		TimeBudgetSeconds: 3,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !f.readSession(t, s.SessionID).IsActive
	}, 2*time.Second, 5*time.Millisecond, "session should auto-pause when the budget runs out")

	stored := f.readSession(t, s.SessionID)
	assert.EqualValues(t, 0, stored.TimeRemainingSeconds)
	assert.False(t, stored.IsActive)

	// the expiry pause must be atomic with the final decrement: a vote
	// against the stored value must already be rejected
	_, err = poll.ApplyVote(stored, "opt-1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
}

func TestService_TimeBudget_PauseStopsTicking(t *testing.T) {
	f := makeFixture(t, withTickInterval(5*time.Millisecond))
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:          "Next track?",
		OptionLabels:      []string{"A", "B"},
		TimeBudgetSeconds: 1000,
	})
	require.NoError(t, err)

	_, err = f.admin.SetActive(ctx, s.SessionID, false)
	require.NoError(t, err)

	remaining := f.readSession(t, s.SessionID).TimeRemainingSeconds
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, remaining, f.readSession(t, s.SessionID).TimeRemainingSeconds,
		"a paused session must not burn its budget")
}

func TestService_TimeBudget_ResumeKeepsTicking(t *testing.T) {
	f := makeFixture(t, withTickInterval(5*time.Millisecond))
	ctx := context.Background()

	s, err := f.admin.CreateSession(ctx, admin.CreateSessionRequest{
		Question:          "Next track?",
		OptionLabels:      []string{"A", "B"},
		TimeBudgetSeconds: 100000,
	})
	require.NoError(t, err)

	// Rapid toggling races each pause against a ticker mid-transaction. A
	// lingering cancelled ticker must not tear down the one the resume
	// started under the same session ID.
	for i := 0; i < 50; i++ {
		_, err = f.admin.SetActive(ctx, s.SessionID, false)
		require.NoError(t, err)
		_, err = f.admin.SetActive(ctx, s.SessionID, true)
		require.NoError(t, err)
	}

	remaining := f.readSession(t, s.SessionID).TimeRemainingSeconds
	require.Eventually(t, func() bool {
		return f.readSession(t, s.SessionID).TimeRemainingSeconds < remaining
	}, 2*time.Second, 5*time.Millisecond, "a resumed session must keep burning its budget")
}

type fixture struct {
	store store.Store
	admin *admin.Service
}

type options func(c *admin.Config)

func withTickInterval(d time.Duration) options {
	return func(c *admin.Config) {
		c.TickInterval = d
	}
}

func makeFixture(t *testing.T, opts ...options) *fixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	st := store.NewRedis(store.Config{
		Client: rc,
		Prefix: "test",
	})

	c := admin.Config{
		Store:    st,
		EventBus: event.NewBus(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	svc := admin.NewService(c)
	t.Cleanup(svc.Shutdown)

	return &fixture{store: st, admin: svc}
}

func (f *fixture) readSession(t *testing.T, sessionID string) *domain.Session {
	t.Helper()

	b, err := f.store.Read(context.Background(), poll.SessionPath(sessionID))
	require.NoError(t, err)

	s, err := poll.Decode(b)
	require.NoError(t, err)
	return s
}

func (f *fixture) castVotes(t *testing.T, sessionID, optionID string, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := f.store.Transact(context.Background(), poll.SessionPath(sessionID), func(cur []byte) ([]byte, error) {
			s, err := poll.Decode(cur)
			if err != nil {
				return nil, err
			}
			next, err := poll.ApplyVote(s, optionID)
			if err != nil {
				return nil, err
			}
			return poll.Encode(next)
		})
		require.NoError(t, err)
	}
}
