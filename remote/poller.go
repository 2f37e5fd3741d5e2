package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultPollInterval is the re-query period of a Poller.
const DefaultPollInterval = 5 * time.Second

// Poller is a Listener over any Store. It re-runs the query on a fixed
// interval and delivers a snapshot only when the result changed.
type Poller struct {
	store    Store
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval uses the default.
func NewPoller(store Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{store: store, interval: interval}
}

// Listen implements Listener. The initial query runs synchronously and
// its failure is returned.
func (p *Poller) Listen(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (func(), error) {
	docs, err := p.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("initial query: %w", err)
	}
	last := fingerprint(docs)
	onSnapshot(docs)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			docs, err := p.store.Query(ctx, q)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				continue
			}
			if fp := fingerprint(docs); !bytes.Equal(fp, last) {
				last = fp
				onSnapshot(docs)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func fingerprint(docs []Document) []byte {
	wire := make([]documentBody, len(docs))
	for i, d := range docs {
		wire[i] = documentBody{ID: d.ID, Fields: encodeFields(d.Fields)}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return nil
	}
	return b
}

var _ Listener = (*Poller)(nil)
