package domain

import (
	"slices"
	"sort"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusDisabled, StatusDeleted:
		return Status(s), true
	}
	return "", false
}

type User struct {
	UserID    string            `json:"userId"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Roles     []string          `json:"roles"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// UserSummary is the trimmed projection kept in status partitions and
// returned by listings.
type UserSummary struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		UserID:    u.UserID,
		Email:     u.Email,
		Name:      u.Name,
		Status:    u.Status,
		Roles:     slices.Clone(u.Roles),
		CreatedAt: u.CreatedAt,
	}
}

func (u *User) Deleted() bool {
	return u.Status == StatusDeleted
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	if u.Metadata != nil {
		c.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// NormalizeRoles collapses duplicates and empty names and keeps the set
// in a deterministic order so stored projections and diffs are stable.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
