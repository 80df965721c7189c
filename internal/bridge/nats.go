package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is where detectors publish events.
const DefaultNATSSubject = "occupancy.events"

// NATSFetcher keeps the most recent message published on a subject. Fetch
// never blocks on the network.
type NATSFetcher struct {
	conn *nats.Conn
	sub  *nats.Subscription

	mu     sync.RWMutex
	latest []byte
}

// NewNATSFetcher connects to url and subscribes to subject.
func NewNATSFetcher(url, subject string) (*NATSFetcher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultNATSSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("occupancy-monitor"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	f := &NATSFetcher{conn: conn}
	sub, err := conn.Subscribe(subject, f.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	f.sub = sub
	return f, nil
}

func (f *NATSFetcher) handle(msg *nats.Msg) {
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	f.mu.Lock()
	f.latest = data
	f.mu.Unlock()
}

func (f *NATSFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return nil, fmt.Errorf("%w: no message received", ErrSourceUnavailable)
	}
	if len(f.latest) > maxEventBytes {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("record exceeds %d bytes", maxEventBytes)}
	}
	out := make([]byte, len(f.latest))
	copy(out, f.latest)
	return out, nil
}

// Close unsubscribes and drops the connection.
func (f *NATSFetcher) Close() error {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	return nil
}
