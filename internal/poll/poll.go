// Package poll holds the session model: construction and validation, the
// pure state transitions the store transactions apply, and display-side
// result computation. Nothing here touches the store or the clock beyond
// the creation timestamp, which is what keeps the transitions safe to
// re-run under transaction retry.
package poll

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
)

const MinOptions = 2

// Presentation tokens cycled over the options at creation, matching the
// admin dashboard's palette. Opaque to the engine.
var palette = []string{"bg-white", "bg-zinc-300", "bg-zinc-500", "bg-zinc-700", "bg-zinc-800"}

type NewSessionRequest struct {
	Question string
	// OptionLabels in display order. Blank entries are dropped before the
	// minimum-count check, matching the admin form behavior.
	OptionLabels []string
	// TimeBudgetSeconds of 0 means no time budget.
	TimeBudgetSeconds int64
}

// New validates the request and builds a fresh session: all counts zero,
// active, sequential stable option IDs. Option IDs are assigned once here
// and never reused; a "new poll" is always a new session record.
func New(req NewSessionRequest) (*domain.Session, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("poll: question must not be empty"))
	}

	labels := make([]string, 0, len(req.OptionLabels))
	for _, l := range req.OptionLabels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) < MinOptions {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("poll: need at least %d non-empty options, got %d", MinOptions, len(labels)))
	}

	s := &domain.Session{
		Question:             strings.TrimSpace(req.Question),
		Options:              make([]domain.Option, 0, len(labels)),
		IsActive:             true,
		CreatedAt:            time.Now().UnixMilli(),
		TimeBudgetSeconds:    req.TimeBudgetSeconds,
		TimeRemainingSeconds: req.TimeBudgetSeconds,
	}

	for i, l := range labels {
		s.Options = append(s.Options, domain.Option{
			OptionID:     optionID(i),
			Label:        l,
			DisplayColor: palette[i%len(palette)],
		})
	}

	return s, nil
}

func optionID(i int) string {
	return "opt-" + strconv.Itoa(i+1)
}

// ApplyVote is the tally transition: given the session value current at
// commit time, it returns a copy with the chosen option's count and the
// stored total both incremented. It is pure with respect to its input, so
// the store may invoke it repeatedly under contention; that purity is what
// makes the increment race-free without any external lock.
func ApplyVote(s *domain.Session, optionID string) (*domain.Session, error) {
	if s == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("poll: session not found"))
	}
	if !s.AcceptingVotes() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("poll: session %s is not accepting votes", s.SessionID))
	}

	next := clone(s)
	opt := next.FindOption(optionID)
	if opt == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("poll: option %q not found in session %s", optionID, s.SessionID))
	}

	opt.Count++
	next.TotalVotes++
	return next, nil
}

// ResetTallies zeroes every option count and the total in one value, so
// the reset is observed as a single atomic replacement.
func ResetTallies(s *domain.Session) *domain.Session {
	next := clone(s)
	for i := range next.Options {
		next.Options[i].Count = 0
	}
	next.TotalVotes = 0
	return next
}

// TickDown burns one second of the time budget. When the budget hits zero
// it clears IsActive in the same value, so no vote can slip in between the
// expiry and the pause. The bool reports whether ticking should continue.
func TickDown(s *domain.Session) (*domain.Session, bool) {
	if s == nil || !s.IsActive || s.TimeBudgetSeconds <= 0 {
		return s, false
	}

	next := clone(s)
	next.TimeRemainingSeconds--
	if next.TimeRemainingSeconds <= 0 {
		next.TimeRemainingSeconds = 0
		next.IsActive = false
		return next, false
	}

	return next, true
}

// Recount derives the total from the option counts. Display paths use
// this rather than trusting the stored total.
func Recount(s *domain.Session) int64 {
	var total int64
	for _, o := range s.Options {
		total += o.Count
	}
	return total
}

// Result is one option's standing for display: exact percentage share,
// ranked by count with creation order breaking ties. Ranking is
// presentation only; votes always reference the stable option ID.
type Result struct {
	OptionID     string          `json:"option_id"`
	Label        string          `json:"label"`
	Count        int64           `json:"count"`
	Share        decimal.Decimal `json:"share"`
	DisplayColor string          `json:"display_color,omitempty"`
}

// Results computes the ranked standings from the option counts.
func Results(s *domain.Session) []Result {
	total := decimal.NewFromInt(Recount(s))

	rs := make([]Result, 0, len(s.Options))
	for _, o := range s.Options {
		share := decimal.Zero
		if total.IsPositive() {
			share = decimal.NewFromInt(o.Count).Div(total).Mul(decimal.NewFromInt(100)).Round(1)
		}
		rs = append(rs, Result{
			OptionID:     o.OptionID,
			Label:        o.Label,
			Count:        o.Count,
			Share:        share,
			DisplayColor: o.DisplayColor,
		})
	}

	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Count > rs[j].Count })
	return rs
}

func clone(s *domain.Session) *domain.Session {
	next := *s
	next.Options = make([]domain.Option, len(s.Options))
	copy(next.Options, s.Options)
	return &next
}
