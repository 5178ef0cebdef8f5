// Package server exposes subscription registration and the reminder
// triggers over HTTP. Caller identity is established by the
// authenticating layer in front of this service and arrives in the
// X-Tenant-ID and X-User-ID headers.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/pushminder/internal/ledger"
	"github.com/pathakanu/pushminder/internal/model"
	"github.com/pathakanu/pushminder/internal/push"
	"github.com/pathakanu/pushminder/internal/reminder"
	"github.com/pathakanu/pushminder/internal/schedule"
)

const (
	headerTenant    = "X-Tenant-ID"
	headerUser      = "X-User-ID"
	headerCronToken = "X-Cron-Token"
	ownerKey        = "owner"
)

// Subscriptions is the registry surface used by the handlers.
type Subscriptions interface {
	Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error)
	Unsubscribe(ctx context.Context, owner model.Owner, endpoint string) error
}

// Dependencies groups what the handlers need.
type Dependencies struct {
	Subscriptions Subscriptions
	Schedules     *schedule.Store
	Ledger        *ledger.Ledger
	Sender        *push.Sender
	Resolver      *reminder.Resolver
	PublicKey     string
	CronToken     string
	BatchTimeout  time.Duration
	Logger        *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps Dependencies
	now  func() time.Time
}

// New returns a server for deps.
func New(deps Dependencies) *Server {
	if deps.BatchTimeout <= 0 {
		deps.BatchTimeout = 2 * time.Minute
	}
	return &Server{deps: deps, now: time.Now}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	router.GET("/push/public-key", s.publicKey)
	router.GET("/cron/reminders", s.requireCronToken(), s.runCron)
	router.POST("/cron/reminders", s.requireCronToken(), s.runCron)

	owned := router.Group("")
	owned.Use(requireOwner())
	{
		owned.POST("/push/subscriptions", s.subscribe)
		owned.DELETE("/push/subscriptions", s.unsubscribe)
		owned.POST("/push/test", s.sendTest)
		owned.GET("/push/latest", s.latest)
		owned.POST("/reminders/run", s.runScoped)
	}
	return router
}

// handleError logs err and returns a generic message to the client.
func (s *Server) handleError(c *gin.Context, status int, message string, err error) {
	s.deps.Logger.Error(message, "path", c.FullPath(), "error", err)
	c.JSON(status, gin.H{"error": message})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.deps.Logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := model.Owner{
			TenantID: strings.TrimSpace(c.GetHeader(headerTenant)),
			UserID:   strings.TrimSpace(c.GetHeader(headerUser)),
		}
		if !owner.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) model.Owner {
	owner, _ := c.MustGet(ownerKey).(model.Owner)
	return owner
}

func (s *Server) requireCronToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(headerCronToken)
		if token == "" {
			token = c.Query("token")
		}
		if s.deps.CronToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.CronToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid cron token"})
			return
		}
		c.Next()
	}
}
