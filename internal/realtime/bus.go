package realtime

import "context"

// Bus is the cross-instance pub/sub fan-out abstraction (spec.md
// §4.12: one channel per case, `ws:case:<caseId>`). Implemented over
// Redis in internal/adapters/redis/bus.
type Bus interface {
	Publish(ctx context.Context, caseID string, env BusEnvelope) error
	// Subscribe returns a channel of envelopes for caseID and an
	// unsubscribe func. The returned channel is closed once
	// unsubscribe is called.
	Subscribe(ctx context.Context, caseID string) (<-chan BusEnvelope, func(), error)
}

// BusChannelName is the pub/sub channel name for a case (spec.md §6).
func BusChannelName(caseID string) string {
	return "ws:case:" + caseID
}
