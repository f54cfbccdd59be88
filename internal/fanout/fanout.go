package fanout

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirantepos/table-service/internal/event"
	"github.com/mirantepos/table-service/internal/metrics"
)

// ErrResyncRequired tells the subscriber the replay log no longer reaches back
// to its last seen version; it must fetch a full snapshot instead. A control
// signal, not a failure.
var ErrResyncRequired = errors.New("resync required")

// Session is one connected client on one or more channels. The transport owns
// its lifecycle; the broker only ever does non-blocking sends into C.
type Session struct {
	ID string
	C  chan event.Event
}

func NewSession(id string, buffer int) *Session {
	return &Session{ID: id, C: make(chan event.Event, buffer)}
}

type entry struct {
	evt event.Event
	at  time.Time
}

type channelState struct {
	subs map[*Session]struct{}
	log  []entry
}

// Broker fans events out to live sessions and keeps a bounded per-channel
// replay log (capacity events or ttl, whichever trims first) for reconnect
// catch-up.
type Broker struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	log      *zap.SugaredLogger
	channels map[event.Channel]*channelState
}

func NewBroker(capacity int, ttl time.Duration, log *zap.SugaredLogger) *Broker {
	return &Broker{
		capacity: capacity,
		ttl:      ttl,
		log:      log,
		channels: make(map[event.Channel]*channelState),
	}
}

func (b *Broker) state(ch event.Channel) *channelState {
	st, ok := b.channels[ch]
	if !ok {
		st = &channelState{subs: make(map[*Session]struct{})}
		b.channels[ch] = st
	}
	return st
}

func (b *Broker) trim(st *channelState) {
	cutoff := time.Now().Add(-b.ttl)
	i := 0
	for i < len(st.log) && st.log[i].at.Before(cutoff) {
		i++
	}
	if over := len(st.log) - i - b.capacity; over > 0 {
		i += over
	}
	if i > 0 {
		st.log = append([]entry(nil), st.log[i:]...)
	}
}

// Publish appends to the replay log and pushes to every live session. Pushes
// never block: a session whose buffer is full loses the frame and will detect
// the version gap on its own end.
func (b *Broker) Publish(ch event.Channel, evt event.Event) {
	b.mu.Lock()
	st := b.state(ch)
	st.log = append(st.log, entry{evt: evt, at: time.Now()})
	b.trim(st)
	subs := make([]*Session, 0, len(st.subs))
	for s := range st.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(ch)).Inc()
	for _, s := range subs {
		select {
		case s.C <- evt:
		default:
			metrics.FramesDropped.WithLabelValues(string(ch)).Inc()
			b.log.Warnw("subscriber buffer full, frame dropped",
				"session", s.ID, "channel", ch, "table", evt.TableID, "version", evt.Version)
		}
	}
}

// Subscribe joins the session to the channel. With lastSeen set, buffered
// events with a higher version are replayed oldest-first before live push; if
// the log has already evicted the continuation point the caller gets
// ErrResyncRequired and must reload from the state store.
func (b *Broker) Subscribe(sess *Session, ch event.Channel, lastSeen *uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(ch)
	if lastSeen != nil {
		b.trim(st)
		if len(st.log) > 0 && st.log[0].evt.Version > *lastSeen+1 {
			return ErrResyncRequired
		}
		for _, en := range st.log {
			if en.evt.Version <= *lastSeen {
				continue
			}
			select {
			case sess.C <- en.evt:
			default:
				// replay bigger than the session buffer, no point joining live
				return ErrResyncRequired
			}
		}
	}
	if _, ok := st.subs[sess]; !ok {
		st.subs[sess] = struct{}{}
		metrics.Subscribers.WithLabelValues(string(ch)).Inc()
	}
	return nil
}

// Unsubscribe is idempotent.
func (b *Broker) Unsubscribe(sess *Session, ch event.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.channels[ch]
	if !ok {
		return
	}
	if _, ok := st.subs[sess]; ok {
		delete(st.subs, sess)
		metrics.Subscribers.WithLabelValues(string(ch)).Dec()
	}
}
