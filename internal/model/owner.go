package model

import "strings"

// Owner identifies the user a schedule or subscription belongs to, within its tenant workspace.
type Owner struct {
	TenantID string `gorm:"size:64;not null;index" json:"tenant_id"`
	UserID   string `gorm:"size:64;not null;index" json:"user_id"`
}

// Valid reports whether both identifiers are present.
func (o Owner) Valid() bool {
	return strings.TrimSpace(o.TenantID) != "" && strings.TrimSpace(o.UserID) != ""
}

func (o Owner) String() string {
	return o.TenantID + "/" + o.UserID
}

// Scope restricts a resolver pass to a single owner. A nil *Scope means unrestricted.
type Scope struct {
	Owner Owner
}

// ScopeFor returns a scope limited to owner.
func ScopeFor(owner Owner) *Scope {
	return &Scope{Owner: owner}
}
