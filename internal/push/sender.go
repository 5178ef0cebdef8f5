// Package push delivers VAPID-signed, empty-body Web Push messages to every
// active browser subscription of a user.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pathakanu/pushminder/internal/model"
	"golang.org/x/sync/errgroup"
)

// Transport names used in failure reports for problems found before any request is made.
const (
	TransportValidation = "validation"
	TransportVAPID      = "vapid"
)

// Subscriptions is the part of the subscription registry delivery needs.
type Subscriptions interface {
	ActiveForOwner(ctx context.Context, owner model.Owner) ([]model.PushSubscription, error)
	Deactivate(ctx context.Context, id string) error
}

// TokenSigner signs a VAPID token for a push service audience.
type TokenSigner interface {
	Sign(audience string) (string, error)
	PublicKey() string
}

// Failure describes one subscription that was not reached.
type Failure struct {
	Host      string `json:"host"`
	Status    int    `json:"status"`
	Transport string `json:"transport"`
	Error     string `json:"error"`
}

// Summary aggregates the per-subscription outcomes of one Deliver call.
// Deactivated subscriptions are also counted as failed.
type Summary struct {
	Attempted   int       `json:"attempted"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Deactivated int       `json:"deactivated"`
	Failures    []Failure `json:"failures"`
}

// Sender fans a push out to a user's subscriptions.
type Sender struct {
	subs        Subscriptions
	signer      TokenSigner
	transport   Transport
	ttl         int
	parallelism int
	logger      *slog.Logger
}

// NewSender wires the delivery dependencies. ttl is the TTL header value in seconds.
func NewSender(subs Subscriptions, signer TokenSigner, transport Transport, ttl int, logger *slog.Logger) *Sender {
	if ttl <= 0 {
		ttl = 60
	}
	return &Sender{
		subs:        subs,
		signer:      signer,
		transport:   transport,
		ttl:         ttl,
		parallelism: 8,
		logger:      logger,
	}
}

type outcome struct {
	sent        bool
	deactivated bool
	failure     *Failure
}

// Deliver pushes to every active subscription of owner. Individual endpoint
// failures are reported in the summary; an error is returned only when the
// subscriptions cannot be listed.
func (s *Sender) Deliver(ctx context.Context, owner model.Owner) (Summary, error) {
	subs, err := s.subs.ActiveForOwner(ctx, owner)
	if err != nil {
		return Summary{}, fmt.Errorf("list subscriptions for %s: %w", owner, err)
	}

	outcomes := make([]outcome, len(subs))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i := range subs {
		g.Go(func() error {
			outcomes[i] = s.deliverOne(ctx, &subs[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Attempted: len(subs), Failures: []Failure{}}
	for _, o := range outcomes {
		switch {
		case o.sent:
			summary.Sent++
		default:
			summary.Failed++
			if o.deactivated {
				summary.Deactivated++
			}
			if o.failure != nil {
				summary.Failures = append(summary.Failures, *o.failure)
			}
		}
	}
	return summary, nil
}

func (s *Sender) deliverOne(ctx context.Context, sub *model.PushSubscription) outcome {
	endpoint, err := model.ParseEndpoint(sub.Endpoint)
	if err != nil {
		return s.fail(sub, Failure{Transport: TransportValidation, Error: err.Error()})
	}
	audience := endpoint.Scheme + "://" + endpoint.Host

	token, err := s.signer.Sign(audience)
	if err != nil {
		return s.fail(sub, Failure{Host: endpoint.Host, Transport: TransportVAPID, Error: err.Error()})
	}

	publicKey := s.signer.PublicKey()
	header := http.Header{}
	header.Set("TTL", strconv.Itoa(s.ttl))
	header.Set("Authorization", "vapid t="+token+", k="+publicKey)
	header.Set("Crypto-Key", "p256ecdsa="+publicKey)

	res := s.transport.Post(ctx, sub.Endpoint, header)
	if res.OK {
		s.logger.Debug("push delivered", "subscription_id", sub.ID, "host", endpoint.Host, "status", res.StatusCode)
		return outcome{sent: true}
	}

	failure := Failure{Host: endpoint.Host, Status: res.StatusCode, Transport: res.Transport, Error: res.Err}
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
		o := s.fail(sub, failure)
		if err := s.subs.Deactivate(ctx, sub.ID); err != nil {
			s.logger.Error("deactivate subscription", "subscription_id", sub.ID, "error", err)
			return o
		}
		s.logger.Info("subscription gone, deactivated", "subscription_id", sub.ID, "host", endpoint.Host, "status", res.StatusCode)
		o.deactivated = true
		return o
	}
	return s.fail(sub, failure)
}

func (s *Sender) fail(sub *model.PushSubscription, f Failure) outcome {
	s.logger.Warn("push failed",
		"subscription_id", sub.ID,
		"host", f.Host,
		"status", f.Status,
		"transport", f.Transport,
		"error", f.Error,
	)
	return outcome{failure: &f}
}
