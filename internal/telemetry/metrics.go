package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/event"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepoll_sessions_created_total",
		Help: "Poll sessions created by the admin.",
	})

	VotesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepoll_votes_accepted_total",
		Help: "Votes committed by the tally transaction.",
	})

	VotesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepoll_votes_rejected_total",
		Help: "Votes rejected, by reason.",
	}, []string{"reason"})

	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepoll_sessions_live",
		Help: "Sessions currently present in the store.",
	})
)

// ObserveEvents tracks the session lifecycle off the event bus.
func ObserveEvents(eb *event.Bus) {
	eb.Subscribe(domain.EventNameSessionCreated, func(context.Context, event.Event) error {
		SessionsLive.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameSessionEnded, func(context.Context, event.Event) error {
		SessionsLive.Dec()
		return nil
	})
}
