package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/pushminder/internal/ledger"
	"github.com/pathakanu/pushminder/internal/model"
	"github.com/pathakanu/pushminder/internal/registry"
	"github.com/pathakanu/pushminder/internal/schedule"
)

// subscribeRequest mirrors PushSubscription.toJSON() in the browser.
type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (s *Server) publicKey(c *gin.Context) {
	if s.deps.PublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": s.deps.PublicKey})
}

func (s *Server) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
		return
	}

	sub, err := model.NewPushSubscription(ownerFrom(c), req.Endpoint, req.Keys.P256dh, req.Keys.Auth, s.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored, err := s.deps.Subscriptions.Upsert(c.Request.Context(), sub)
	if err != nil {
		s.handleError(c, http.StatusInternalServerError, "failed to save subscription", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": stored.ID, "active": stored.Active})
}

func (s *Server) unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint required"})
		return
	}

	err := s.deps.Subscriptions.Unsubscribe(c.Request.Context(), ownerFrom(c), req.Endpoint)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
	case err != nil:
		s.handleError(c, http.StatusInternalServerError, "failed to remove subscription", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) sendTest(c *gin.Context) {
	summary, err := s.deps.Sender.Deliver(c.Request.Context(), ownerFrom(c))
	if err != nil {
		s.handleError(c, http.StatusInternalServerError, "failed to send test notification", err)
		return
	}

	var message string
	switch {
	case summary.Attempted == 0:
		message = "No browsers are subscribed to notifications yet."
	case summary.Failed == 0:
		message = fmt.Sprintf("Test notification sent to %d browser(s).", summary.Sent)
	default:
		message = fmt.Sprintf("Test notification sent to %d of %d browser(s); %d failed, %d removed.",
			summary.Sent, summary.Attempted, summary.Failed, summary.Deactivated)
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "summary": summary})
}

func (s *Server) latest(c *gin.Context) {
	ctx := c.Request.Context()
	record, err := s.deps.Ledger.Latest(ctx, ownerFrom(c))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reminders dispatched yet"})
		return
	}
	if err != nil {
		s.handleError(c, http.StatusInternalServerError, "failed to load reminder", err)
		return
	}

	sched, err := s.deps.Schedules.Get(ctx, record.ScheduleID)
	if errors.Is(err, schedule.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminder no longer exists"})
		return
	}
	if err != nil {
		s.handleError(c, http.StatusInternalServerError, "failed to load reminder", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"title":         "Medicine reminder",
		"body":          reminderBody(sched),
		"schedule_id":   sched.ID,
		"dispatch_id":   record.ID,
		"scheduled_for": record.ScheduledFor,
	})
}

func reminderBody(sched *model.RecurringSchedule) string {
	if sched.Message != "" {
		return sched.Message
	}
	name := sched.MedicineName
	if name == "" {
		name = "your medicine"
	}
	if sched.DosageAmount > 0 {
		return fmt.Sprintf("Time to take %s %s of %s.", strconv.FormatFloat(sched.DosageAmount, 'f', -1, 64), sched.DosageUnit, name)
	}
	return fmt.Sprintf("Time to take %s.", name)
}

func (s *Server) runScoped(c *gin.Context) {
	s.run(c, model.ScopeFor(ownerFrom(c)))
}

func (s *Server) runCron(c *gin.Context) {
	s.run(c, nil)
}

func (s *Server) run(c *gin.Context, scope *model.Scope) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.BatchTimeout)
	defer cancel()

	result, err := s.deps.Resolver.ResolveDue(ctx, s.now(), scope)
	if err != nil && result.Processed == 0 {
		s.handleError(c, http.StatusInternalServerError, "reminder run failed", err)
		return
	}

	body := gin.H{"message": result.Summary(), "result": result}
	if err != nil {
		body["error"] = "reminder run stopped early"
	}
	c.JSON(http.StatusOK, body)
}
