package deadletter

import "time"

// Record is a terminally failed payload kept for manual inspection.
// Nothing in the pipeline reads it back; operators do.
type Record struct {
	ID        int64     `json:"id"`
	Payload   []byte    `json:"payload"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
