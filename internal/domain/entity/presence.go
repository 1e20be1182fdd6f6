package entity

import "time"

type PresenceRecord struct {
	UserID     string    `json:"user_id" firestore:"userId"`
	IsOnline   bool      `json:"is_online" firestore:"isOnline"`
	LastSeenAt time.Time `json:"last_seen_at" firestore:"lastSeenAt"`
}

// Online applies the staleness rule: a record not refreshed within
// staleAfter counts as offline whatever its stored flag says.
func (p *PresenceRecord) Online(now time.Time, staleAfter time.Duration) bool {
	if p == nil || !p.IsOnline {
		return false
	}
	return now.Sub(p.LastSeenAt) <= staleAfter
}
