package domain

const (
	EventNameSessionCreated = "session.created"
	EventNameSessionEnded   = "session.ended"
	EventNameVoteAccepted   = "vote.accepted"
)

type EventSessionCreated struct {
	Session Session
}

func (EventSessionCreated) Name() string { return EventNameSessionCreated }

type EventSessionEnded struct {
	SessionID string
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventVoteAccepted struct {
	Receipt Receipt
}

func (EventVoteAccepted) Name() string { return EventNameVoteAccepted }
