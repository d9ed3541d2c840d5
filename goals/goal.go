package goals

import (
	"time"

	"github.com/liamcoop/affiliate/rules"
)

// Goal is a trackable action that credits an affiliate when satisfied.
// StartsAt, EndsAt and UsageLimit are optional; nil means unbounded.
type Goal struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	StartsAt   *time.Time   `json:"startsAt,omitempty"`
	EndsAt     *time.Time   `json:"endsAt,omitempty"`
	UsageLimit *int         `json:"usageLimit,omitempty"`
	Used       int          `json:"used"`
	Rules      []rules.Rule `json:"rules"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// HasRules reports whether any rule is attached
func (g *Goal) HasRules() bool {
	return len(g.Rules) > 0
}

// clone returns a copy that shares nothing mutable with g
func (g *Goal) clone() *Goal {
	c := *g
	if g.StartsAt != nil {
		t := *g.StartsAt
		c.StartsAt = &t
	}
	if g.EndsAt != nil {
		t := *g.EndsAt
		c.EndsAt = &t
	}
	if g.UsageLimit != nil {
		l := *g.UsageLimit
		c.UsageLimit = &l
	}
	if g.Rules != nil {
		c.Rules = make([]rules.Rule, len(g.Rules))
		copy(c.Rules, g.Rules)
	}
	return &c
}
