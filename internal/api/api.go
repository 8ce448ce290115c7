// Package api exposes the engine over HTTP: admin REST operations, the
// participant vote endpoint, and a server-sent-events stream of live
// session snapshots.
package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/votefore/livepoll/internal/admin"
	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/errors"
	"github.com/votefore/livepoll/internal/participant"
	"github.com/votefore/livepoll/internal/poll"
	"github.com/votefore/livepoll/internal/receipt"
)

type Config struct {
	Router      *gin.Engine
	Admin       *admin.Service
	Participant *participant.Service
	Receipts    *receipt.Service
}

type API struct {
	admin       *admin.Service
	participant *participant.Service
	receipts    *receipt.Service
}

func New(c Config) *API {
	a := &API{
		admin:       c.Admin,
		participant: c.Participant,
		receipts:    c.Receipts,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/polls", a.createSession)
	v1.GET("/polls/:id", a.getSession)
	v1.PATCH("/polls/:id/active", a.setActive)
	v1.POST("/polls/:id/reset", a.resetVotes)
	v1.DELETE("/polls/:id", a.endSession)
	v1.GET("/polls/:id/receipts", a.listReceipts)
	v1.POST("/polls/:id/votes", a.castVote)
	v1.GET("/polls/:id/live", a.live)

	return a
}

// sessionView is the wire shape for a session: the stored record plus the
// display-side recomputed total and ranked percentage shares.
type sessionView struct {
	Session *domain.Session `json:"session"`
	Total   int64           `json:"total"`
	Results []poll.Result   `json:"results"`
}

func newSessionView(s *domain.Session) sessionView {
	return sessionView{
		Session: s,
		Total:   poll.Recount(s),
		Results: poll.Results(s),
	}
}

func (a *API) createSession(c *gin.Context) {
	var req struct {
		Question          string   `json:"question"`
		Options           []string `json:"options"`
		TimeBudgetSeconds int64    `json:"time_budget_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body")))
		return
	}

	sess, err := a.admin.CreateSession(c.Request.Context(), admin.CreateSessionRequest{
		Question:          req.Question,
		OptionLabels:      req.Options,
		TimeBudgetSeconds: req.TimeBudgetSeconds,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSessionView(sess))
}

func (a *API) getSession(c *gin.Context) {
	sess, err := a.participant.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(sess))
}

func (a *API) setActive(c *gin.Context) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body")))
		return
	}

	sess, err := a.admin.SetActive(c.Request.Context(), c.Param("id"), req.Active)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(sess))
}

func (a *API) resetVotes(c *gin.Context) {
	var req struct {
		PurgeReceipts bool `json:"purge_receipts"`
	}
	// empty body means a plain tally reset
	_ = c.ShouldBindJSON(&req)

	sess, err := a.admin.ResetVotes(c.Request.Context(), admin.ResetVotesRequest{
		SessionID:     c.Param("id"),
		PurgeReceipts: req.PurgeReceipts,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(sess))
}

func (a *API) endSession(c *gin.Context) {
	if err := a.admin.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		abortError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) listReceipts(c *gin.Context) {
	rs, err := a.receipts.ListReceipts(c.Request.Context(), receipt.ListReceiptsRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		abortError(c, errors.Convert(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": rs})
}

func (a *API) castVote(c *gin.Context) {
	var req struct {
		OptionID          string `json:"option_id"`
		ParticipantHandle string `json:"participant_handle"`
		SessionCreatedAt  int64  `json:"session_created_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body")))
		return
	}

	rec, err := a.participant.CastVote(c.Request.Context(), participant.CastVoteRequest{
		SessionID:         c.Param("id"),
		OptionID:          req.OptionID,
		ParticipantHandle: req.ParticipantHandle,
		SessionCreatedAt:  req.SessionCreatedAt,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"receipt": rec})
}

// live streams full-session snapshots as server-sent events. Every event
// replaces the previous state entirely; a final "ended" event marks the
// record's removal and terminates the stream.
func (a *API) live(c *gin.Context) {
	view, err := a.participant.Observe(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	defer view.Close()

	c.Writer.Header().Set("Cache-Control", "no-store")

	c.Stream(func(w io.Writer) bool {
		sess, ok := <-view.Sessions()
		if !ok {
			return false
		}
		if sess == nil {
			c.SSEvent("ended", gin.H{})
			return false
		}

		c.SSEvent("snapshot", newSessionView(sess))
		return true
	})
}

func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
