package media

import "time"

// CountUpdate is emitted after every completed detection cycle.
type CountUpdate struct {
	SessionID string    `json:"session_id"`
	Camera    string    `json:"camera"`
	Count     int64     `json:"count"`
	Cycle     uint64    `json:"cycle"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
}
