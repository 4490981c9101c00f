package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
)

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = 30 * time.Second
	listenerPingInterval = 90 * time.Second
)

// listener fans LISTEN/NOTIFY room change events out to per-room
// subscribers. pq.Listener handles reconnects; after a reconnect every
// subscriber is refreshed from the table since notifications may have
// been missed while the connection was down.
type listener struct {
	pl    *pq.Listener
	fetch func(ctx context.Context, id string) roomstore.Snapshot

	mu   sync.Mutex
	subs map[string]map[int64]func(roomstore.Snapshot)
	next int64

	done chan struct{}
}

func newListener(dsn string, fetch func(ctx context.Context, id string) roomstore.Snapshot) *listener {
	l := &listener{
		fetch: fetch,
		subs:  make(map[string]map[int64]func(roomstore.Snapshot)),
		done:  make(chan struct{}),
	}
	l.pl = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventReconnected:
			log.Info().Msg("room listener reconnected")
			l.refreshAll()
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Msg("room listener connection attempt failed")
		}
	})
	if err := l.pl.Listen(NotifyChannel); err != nil {
		log.Error().Err(err).Str("channel", NotifyChannel).Msg("failed to LISTEN, snapshots will be poll-only")
	}
	go l.run()
	return l
}

func (l *listener) run() {
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return
		case n := <-l.pl.Notify:
			if n == nil {
				// Reconnect marker; refreshAll already ran via the
				// event callback.
				continue
			}
			l.dispatch(n.Extra)
		case <-ping.C:
			go func() {
				if err := l.pl.Ping(); err != nil {
					log.Warn().Err(err).Msg("room listener ping failed")
				}
			}()
		}
	}
}

func (l *listener) subscribe(id string, fn func(roomstore.Snapshot)) roomstore.UnsubscribeFunc {
	l.mu.Lock()
	l.next++
	key := l.next
	if l.subs[id] == nil {
		l.subs[id] = make(map[int64]func(roomstore.Snapshot))
	}
	l.subs[id][key] = fn
	l.mu.Unlock()

	// Initial snapshot.
	fn(l.fetch(context.Background(), id))

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[id], key)
			l.mu.Unlock()
		})
	}
}

func (l *listener) dispatch(id string) {
	l.mu.Lock()
	fns := make([]func(roomstore.Snapshot), 0, len(l.subs[id]))
	for _, fn := range l.subs[id] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	snap := l.fetch(context.Background(), id)
	for _, fn := range fns {
		fn(snap)
	}
}

func (l *listener) refreshAll() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.dispatch(id)
	}
}

func (l *listener) close() {
	close(l.done)
	if err := l.pl.Close(); err != nil {
		log.Debug().Err(err).Msg("closing room listener")
	}
}
