package model

import "time"

// Job is one inbound message waiting to be answered and delivered.
type Job struct {
	ID         string    `json:"id"`
	Recipient  string    `json:"recipient"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Receipt is the channel's acknowledgement of a delivered message.
type Receipt struct {
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}

// QueueStats is a point-in-time snapshot of the job queue.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
