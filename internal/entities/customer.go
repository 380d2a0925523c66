package entities

import "time"

// Audience tags derived from lead score
const (
	TagNew        = "New"
	TagSubscriber = "Subscriber"
	TagFrequent   = "Frequent"
	TagVIP        = "VIP"
)

// TagForScore maps a lead score to an audience tag. Higher threshold wins.
func TagForScore(score int) string {
	switch {
	case score >= 60:
		return TagVIP
	case score >= 30:
		return TagFrequent
	case score >= 10:
		return TagSubscriber
	default:
		return TagNew
	}
}

type Customer struct {
	ID         int64     `json:"id"`
	Address    string    `json:"address"` // phone number, no @s.whatsapp.net suffix
	Name       string    `json:"name"`    // empty until registered
	Language   string    `json:"language"`
	LeadScore  int       `json:"lead_score"`
	Tag        string    `json:"tag"`
	Blocked    bool      `json:"blocked"`
	Subscribed bool      `json:"subscribed"` // broadcast opt-in
	OrderCount int       `json:"order_count"`
	TotalSpent float64   `json:"total_spent"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
