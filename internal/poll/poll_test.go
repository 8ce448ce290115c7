package poll_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
	"github.com/votefore/livepoll/internal/poll"
)

func TestNew(t *testing.T) {
	tests := map[string]struct {
		arrange func() poll.NewSessionRequest
		assert  func(t *testing.T, s *domain.Session, err error)
	}{
		"a valid request should build an active session with zeroed tallies": {
			arrange: func() poll.NewSessionRequest {
				return poll.NewSessionRequest{
					Question:     "Next track?",
					OptionLabels: []string{"A", "B"},
				}
			},

			assert: func(t *testing.T, s *domain.Session, err error) {
				require.NoError(t, err)
				require.Len(t, s.Options, 2)
				assert.True(t, s.IsActive)
				assert.EqualValues(t, 0, s.TotalVotes)
				assert.Equal(t, "opt-1", s.Options[0].OptionID)
				assert.Equal(t, "opt-2", s.Options[1].OptionID)
				assert.NotZero(t, s.CreatedAt)
			},
		},

		"an empty question should be rejected": {
			arrange: func() poll.NewSessionRequest {
				return poll.NewSessionRequest{
					Question:     "   ",
					OptionLabels: []string{"A", "B"},
				}
			},

			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			},
		},

		"blank options should not count towards the minimum": {
			arrange: func() poll.NewSessionRequest {
				return poll.NewSessionRequest{
					Question:     "Next track?",
					OptionLabels: []string{"A", "  ", ""},
				}
			},

			assert: func(t *testing.T, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			},
		},

		"blank options should be dropped but valid ones kept in order": {
			arrange: func() poll.NewSessionRequest {
				return poll.NewSessionRequest{
					Question:     "Next track?",
					OptionLabels: []string{" A ", "", "B", "C"},
				}
			},

			assert: func(t *testing.T, s *domain.Session, err error) {
				require.NoError(t, err)
				require.Len(t, s.Options, 3)
				assert.Equal(t, "A", s.Options[0].Label)
				assert.Equal(t, "B", s.Options[1].Label)
				assert.Equal(t, "C", s.Options[2].Label)
			},
		},

		"a time budget should start fully unspent": {
			arrange: func() poll.NewSessionRequest {
				return poll.NewSessionRequest{
					Question:          "Next track?",
					OptionLabels:      []string{"A", "B"},
					TimeBudgetSeconds: 60,
				}
			},

			assert: func(t *testing.T, s *domain.Session, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 60, s.TimeBudgetSeconds)
				assert.EqualValues(t, 60, s.TimeRemainingSeconds)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := poll.New(tt.arrange())
			tt.assert(t, s, err)
		})
	}
}

func TestApplyVote(t *testing.T) {
	tests := map[string]struct {
		arrange func() (*domain.Session, string)
		assert  func(t *testing.T, in, out *domain.Session, err error)
	}{
		"a vote for a valid option should increment exactly that option and the total": {
			arrange: func() (*domain.Session, string) {
				return makeSession(t), "opt-1"
			},

			assert: func(t *testing.T, in, out *domain.Session, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 1, out.Options[0].Count)
				assert.EqualValues(t, 0, out.Options[1].Count)
				assert.EqualValues(t, 1, out.TotalVotes)
				assert.EqualValues(t, out.TotalVotes, poll.Recount(out), "total must equal the sum of counts")
			},
		},

		"the input session must not be mutated": {
			arrange: func() (*domain.Session, string) {
				return makeSession(t), "opt-2"
			},

			assert: func(t *testing.T, in, out *domain.Session, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 0, in.Options[1].Count)
				assert.EqualValues(t, 0, in.TotalVotes)
			},
		},

		"an absent session should reject with not found": {
			arrange: func() (*domain.Session, string) {
				return nil, "opt-1"
			},

			assert: func(t *testing.T, _, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
			},
		},

		"a paused session should reject the vote": {
			arrange: func() (*domain.Session, string) {
				s := makeSession(t)
				s.IsActive = false
				return s, "opt-1"
			},

			assert: func(t *testing.T, in, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
				assert.EqualValues(t, 0, in.TotalVotes, "tallies must be untouched")
			},
		},

		"an exhausted time budget should reject the vote even while active": {
			arrange: func() (*domain.Session, string) {
				s := makeSession(t)
				s.TimeBudgetSeconds = 30
				s.TimeRemainingSeconds = 0
				return s, "opt-1"
			},

			assert: func(t *testing.T, _, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
			},
		},

		"an unknown option should reject with not found": {
			arrange: func() (*domain.Session, string) {
				return makeSession(t), "opt-99"
			},

			assert: func(t *testing.T, _, _ *domain.Session, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, optionID := tt.arrange()
			out, err := poll.ApplyVote(in, optionID)
			tt.assert(t, in, out, err)
		})
	}
}

func TestApplyVote_Conservation(t *testing.T) {
	s := makeSession(t)

	// arbitrary interleaving of votes across options
	for _, id := range []string{"opt-1", "opt-2", "opt-1", "opt-1", "opt-2"} {
		next, err := poll.ApplyVote(s, id)
		require.NoError(t, err)
		require.EqualValues(t, next.TotalVotes, poll.Recount(next), "conservation must hold after every vote")
		s = next
	}

	assert.EqualValues(t, 3, s.Options[0].Count)
	assert.EqualValues(t, 2, s.Options[1].Count)
	assert.EqualValues(t, 5, s.TotalVotes)
}

func TestResetTallies(t *testing.T) {
	s := makeSession(t)
	for i := 0; i < 7; i++ {
		var err error
		s, err = poll.ApplyVote(s, "opt-1")
		require.NoError(t, err)
	}

	reset := poll.ResetTallies(s)

	for _, o := range reset.Options {
		assert.EqualValues(t, 0, o.Count)
	}
	assert.EqualValues(t, 0, reset.TotalVotes)
	assert.EqualValues(t, 7, s.TotalVotes, "input must not be mutated")

	// a vote after reset counts from zero
	next, err := poll.ApplyVote(reset, "opt-2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, next.TotalVotes)
}

func TestTickDown(t *testing.T) {
	tests := map[string]struct {
		arrange func() *domain.Session
		assert  func(t *testing.T, out *domain.Session, cont bool)
	}{
		"a tick should burn one second and keep going": {
			arrange: func() *domain.Session {
				s := makeSession(t)
				s.TimeBudgetSeconds = 10
				s.TimeRemainingSeconds = 10
				return s
			},

			assert: func(t *testing.T, out *domain.Session, cont bool) {
				assert.EqualValues(t, 9, out.TimeRemainingSeconds)
				assert.True(t, out.IsActive)
				assert.True(t, cont)
			},
		},

		"the final tick should pause the session in the same value": {
			arrange: func() *domain.Session {
				s := makeSession(t)
				s.TimeBudgetSeconds = 10
				s.TimeRemainingSeconds = 1
				return s
			},

			assert: func(t *testing.T, out *domain.Session, cont bool) {
				assert.EqualValues(t, 0, out.TimeRemainingSeconds)
				assert.False(t, out.IsActive, "expiry and pause must land together")
				assert.False(t, cont)
			},
		},

		"a paused session should not tick": {
			arrange: func() *domain.Session {
				s := makeSession(t)
				s.TimeBudgetSeconds = 10
				s.TimeRemainingSeconds = 5
				s.IsActive = false
				return s
			},

			assert: func(t *testing.T, out *domain.Session, cont bool) {
				assert.EqualValues(t, 5, out.TimeRemainingSeconds)
				assert.False(t, cont)
			},
		},

		"a session without a budget should not tick": {
			arrange: func() *domain.Session {
				return makeSession(t)
			},

			assert: func(t *testing.T, out *domain.Session, cont bool) {
				assert.False(t, cont)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			out, cont := poll.TickDown(tt.arrange())
			tt.assert(t, out, cont)
		})
	}
}

func TestResults(t *testing.T) {
	s := makeSession(t)
	var err error
	for _, id := range []string{"opt-2", "opt-2", "opt-2", "opt-1"} {
		s, err = poll.ApplyVote(s, id)
		require.NoError(t, err)
	}

	rs := poll.Results(s)

	require.Len(t, rs, 2)
	assert.Equal(t, "opt-2", rs[0].OptionID, "ranked by count descending")
	assert.Equal(t, "75", rs[0].Share.String())
	assert.Equal(t, "opt-1", rs[1].OptionID)
	assert.Equal(t, "25", rs[1].Share.String())
}

func TestResults_NoVotes(t *testing.T) {
	rs := poll.Results(makeSession(t))

	require.Len(t, rs, 2)
	assert.Equal(t, "opt-1", rs[0].OptionID, "creation order breaks the tie")
	assert.True(t, rs[0].Share.IsZero())
}

func makeSession(t *testing.T) *domain.Session {
	t.Helper()

	s, err := poll.New(poll.NewSessionRequest{
		Question:     "Next track?",
		OptionLabels: []string{"A", "B"},
	})
	require.NoError(t, err)
	s.SessionID = "s1"
	return s
}
