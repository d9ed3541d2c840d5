// Package domain holds the values that goals are evaluated against:
// orders, customers and affiliates.
package domain

import "time"

// FactProvider is implemented by subjects that can be exposed to
// expression rules. The returned map is keyed by the CEL variable name
// the subject binds to ("order", "customer", "affiliate").
type FactProvider interface {
	Facts() map[string]any
}

// Customer represents a shop customer
type Customer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Group      string `json:"group,omitempty"`
	OrderCount int    `json:"orderCount"`
}

// Order represents a placed order
type Order struct {
	ID       string    `json:"id"`
	Number   string    `json:"number,omitempty"`
	Total    float64   `json:"total"`
	Currency string    `json:"currency,omitempty"`
	Customer *Customer `json:"customer,omitempty"`

	// Sequence is the position of this order in its customer's order
	// history, starting at 1. Zero means unknown.
	Sequence  int       `json:"sequence,omitempty"`
	PlacedAt  time.Time `json:"placedAt"`
	ItemCount int       `json:"itemCount,omitempty"`
}

// Affiliate is a participant that owns a referral code.
// ReferrerID points at the affiliate that referred this one, if any. It is a
// back-reference only; nothing in the evaluation path walks it.
type Affiliate struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	ReferralCode string    `json:"referralCode"`
	ReferrerID   *string   `json:"referrerId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c *Customer) fields() map[string]any {
	return map[string]any{
		"id":         c.ID,
		"email":      c.Email,
		"group":      c.Group,
		"orderCount": int64(c.OrderCount),
	}
}

// Facts exposes the customer under the "customer" variable
func (c *Customer) Facts() map[string]any {
	return map[string]any{"customer": c.fields()}
}

// Facts exposes the order under "order" and, when known, its customer
// under "customer".
func (o *Order) Facts() map[string]any {
	facts := map[string]any{
		"order": map[string]any{
			"id":        o.ID,
			"number":    o.Number,
			"total":     o.Total,
			"currency":  o.Currency,
			"sequence":  int64(o.Sequence),
			"itemCount": int64(o.ItemCount),
			"placedAt":  o.PlacedAt,
		},
	}
	if o.Customer != nil {
		facts["customer"] = o.Customer.fields()
	}
	return facts
}

// Facts exposes the affiliate under the "affiliate" variable
func (a *Affiliate) Facts() map[string]any {
	referrer := ""
	if a.ReferrerID != nil {
		referrer = *a.ReferrerID
	}
	return map[string]any{
		"affiliate": map[string]any{
			"id":           a.ID,
			"customerId":   a.CustomerID,
			"referralCode": a.ReferralCode,
			"referrerId":   referrer,
			"referred":     a.ReferrerID != nil,
		},
	}
}
