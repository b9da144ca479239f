package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer smooths bursts of queued interleaved writes onto the single
// control-socket TCP connection, adapted from the teacher's leaky-bucket
// pacer (pkg/bridge/pacer.go) but built directly on golang.org/x/time/rate
// the way the teacher's own API-request pacer does (pkg/nest/queue.go)
// instead of hand-rolling a token bucket a second time.
type Pacer struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	writer func(channel byte, payload []byte) error
}

// NewPacer creates a Pacer allowing burstPackets in flight and
// packetsPerSec sustained thereafter.
func NewPacer(packetsPerSec float64, burstPackets int) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(packetsPerSec), burstPackets)}
}

// SetWriter assigns the function used to actually emit a paced packet.
func (p *Pacer) SetWriter(w func(channel byte, payload []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Write blocks until the limiter admits one packet, then writes it. The
// caller's ctx bounds how long it will wait for a token.
func (p *Pacer) Write(ctx context.Context, channel byte, payload []byte) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	w := p.writer
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	return w(channel, payload)
}
