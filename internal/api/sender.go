package api

import (
	"context"
	"log"
)

// Sender delivers a reply to a channel identity. Provider mechanics such as
// signatures, retries and backoff live behind this interface.
type Sender interface {
	Send(ctx context.Context, identity, text string) error
}

// LogSender is the default outbound implementation: it only logs. Real
// channel providers plug in at wiring time.
type LogSender struct{}

func (LogSender) Send(_ context.Context, identity, text string) error {
	log.Printf("outbound reply identity=%s len=%d", identity, len(text))
	return nil
}
