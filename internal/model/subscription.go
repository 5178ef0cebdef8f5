package model

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidEndpoint is returned for endpoints that are not absolute http(s) URLs.
	ErrInvalidEndpoint = errors.New("invalid push endpoint")
	// ErrInvalidSubscriptionKeys is returned when p256dh or auth have the wrong shape.
	ErrInvalidSubscriptionKeys = errors.New("invalid subscription keys")
)

const (
	p256dhLength = 65
	authLength   = 16
)

// PushSubscription is one browser's registration to receive pushes for a user.
type PushSubscription struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID     string    `gorm:"size:64;not null;uniqueIndex:idx_push_owner_endpoint,priority:1" json:"tenant_id"`
	UserID       string    `gorm:"size:64;not null;uniqueIndex:idx_push_owner_endpoint,priority:2;index" json:"user_id"`
	EndpointHash string    `gorm:"size:64;not null;uniqueIndex:idx_push_owner_endpoint,priority:3" json:"endpoint_hash"`
	Endpoint     string    `gorm:"type:text;not null" json:"endpoint"`
	P256dh       string    `gorm:"type:text;not null" json:"p256dh"`
	Auth         string    `gorm:"type:text;not null" json:"auth"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Active       bool      `gorm:"not null" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPushSubscription validates what a browser handed over from PushManager.subscribe.
func NewPushSubscription(owner Owner, endpoint, p256dh, auth string, now time.Time) (*PushSubscription, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	endpoint = strings.TrimSpace(endpoint)
	if _, err := ParseEndpoint(endpoint); err != nil {
		return nil, err
	}
	p256dh = strings.TrimSpace(p256dh)
	auth = strings.TrimSpace(auth)
	if err := checkKey(p256dh, p256dhLength); err != nil {
		return nil, fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscriptionKeys, err)
	}
	if err := checkKey(auth, authLength); err != nil {
		return nil, fmt.Errorf("%w: auth: %v", ErrInvalidSubscriptionKeys, err)
	}

	return &PushSubscription{
		ID:           uuid.NewString(),
		TenantID:     owner.TenantID,
		UserID:       owner.UserID,
		EndpointHash: HashEndpoint(endpoint),
		Endpoint:     endpoint,
		P256dh:       p256dh,
		Auth:         auth,
		LastSeenAt:   now,
		Active:       true,
	}, nil
}

// Owner returns the subscription's owner.
func (p *PushSubscription) Owner() Owner {
	return Owner{TenantID: p.TenantID, UserID: p.UserID}
}

// Host returns the endpoint host for logs and failure reports.
func (p *PushSubscription) Host() string {
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// HashEndpoint returns the stable lookup key for an endpoint URL.
func HashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(endpoint)))
	return hex.EncodeToString(sum[:])
}

// ParseEndpoint parses an endpoint and requires an absolute http(s) URL with a host.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return u, nil
}

func checkKey(value string, want int) error {
	if value == "" {
		return errors.New("missing")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return err
	}
	if len(raw) != want {
		return fmt.Errorf("decoded to %d bytes, want %d", len(raw), want)
	}
	if want == p256dhLength && raw[0] != 0x04 {
		return errors.New("not an uncompressed point")
	}
	return nil
}
