package queue

import (
	"context"
)

// Publisher announces that a job was queued. Notifications only shorten a
// worker's idle wait; the job store stays authoritative.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// Subscriber delivers job ids published after Subscribe returns. The channel is
// closed when ctx is done. Slow readers may miss notifications.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan string, error)
}

type Bus interface {
	Publisher
	Subscriber
}
