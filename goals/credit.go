package goals

import "time"

// Credit records one goal earned by an affiliate. Credits are written by
// the store together with the goal's usage increment and never change.
type Credit struct {
	ID          int64     `json:"id"`
	GoalID      string    `json:"goalId"`
	GoalName    string    `json:"goalName"`
	AffiliateID string    `json:"affiliateId"`
	CreditedAt  time.Time `json:"creditedAt"`
}
