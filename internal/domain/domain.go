package domain

// Session represents one live poll: a question, its options, and the
// running tallies. The record is shared state; it is mutated only through
// whole-record admin writes and the vote tally transaction.
type Session struct {
	SessionID string `json:"session_id"`

	Question string   `json:"question"`
	Options  []Option `json:"options"`

	// IsActive gates vote acceptance. Votes committed while false are
	// rejected inside the tally transaction, not just at the edge.
	IsActive bool `json:"is_active"`

	// TotalVotes is the stored running total. Display paths recompute it
	// from the option counts; the tally transaction trusts the stored value.
	TotalVotes int64 `json:"total_votes"`

	// CreatedAt is Unix milliseconds. Local vote markers are keyed by it so
	// a reused session ID cannot inherit a stale "already voted" flag.
	CreatedAt int64 `json:"created_at"`

	// TimeBudgetSeconds, when > 0, bounds how long the session accepts
	// votes. TimeRemainingSeconds ticks down only while IsActive.
	TimeBudgetSeconds    int64 `json:"time_budget_seconds,omitempty"`
	TimeRemainingSeconds int64 `json:"time_remaining_seconds,omitempty"`
}

// Option is owned by its Session and has no identity outside it.
// IDs are assigned at creation and never reused or repositioned.
type Option struct {
	OptionID     string `json:"option_id"`
	Label        string `json:"label"`
	Count        int64  `json:"count"`
	DisplayColor string `json:"display_color,omitempty"`
}

// Expired reports whether the session's time budget, if any, is used up.
func (s *Session) Expired() bool {
	return s.TimeBudgetSeconds > 0 && s.TimeRemainingSeconds <= 0
}

// AcceptingVotes reports whether the tally transaction would admit a vote
// against this exact value of the session.
func (s *Session) AcceptingVotes() bool {
	return s.IsActive && !s.Expired()
}

// FindOption returns the option with the given ID, or nil.
func (s *Session) FindOption(optionID string) *Option {
	for i := range s.Options {
		if s.Options[i].OptionID == optionID {
			return &s.Options[i]
		}
	}
	return nil
}

// Receipt records one accepted vote. Receipts are append-only and never
// mutated after creation.
type Receipt struct {
	ReceiptID string `json:"receipt_id"`
	SessionID string `json:"session_id"`

	// ParticipantHandle is a best-effort identity, typically an email
	// string. It is opaque and unverified.
	ParticipantHandle string `json:"participant_handle"`

	OptionID    string `json:"option_id"`
	OptionLabel string `json:"option_label"`

	// CastAt is Unix milliseconds.
	CastAt int64 `json:"cast_at"`
}
