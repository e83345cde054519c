// Package observer implements the broker's external event feed: a
// best-effort broadcast of peer and routing activity for a dashboard
// or debugging client to subscribe to (spec §6).
//
// Grounded on the teacher's watcher.go: the same bounded-queue,
// wake-pump goroutine shape, adapted from "one Watcher per
// subscribed match filter" to "one Subscriber per dashboard
// connection, fed every event unconditionally" since there is no
// per-observer filtering in the broker feed.
package observer

import (
	"sync"

	"github.com/creachadair/mds/queue"
)

// maxSubscriberQueue bounds how many events a slow subscriber may
// lag behind by before older events are dropped in favor of newer
// ones, mirroring the teacher's maxWatcherQueue.
const maxSubscriberQueue = 64

// Kind identifies the shape of an Event.
type Kind int

const (
	PeerUp Kind = iota + 1
	PeerDown
	NameChanged
	MessageRouted
	PolicyDenied
)

func (k Kind) String() string {
	switch k {
	case PeerUp:
		return "peer_up"
	case PeerDown:
		return "peer_down"
	case NameChanged:
		return "name_changed"
	case MessageRouted:
		return "message_routed"
	case PolicyDenied:
		return "policy_denied"
	default:
		return "unknown"
	}
}

// Event is one broker activity notification.
type Event struct {
	Kind Kind

	// Peer identifies the connection the event concerns, by unique
	// name, for PeerDown/MessageRouted/PolicyDenied. For PeerUp it is
	// empty: the router emits PeerUp before Hello assigns the name.
	Peer string

	// Name, OldOwner, NewOwner describe a NameChanged event.
	Name     string
	OldOwner string
	NewOwner string

	// MessageKind, Destination, Interface, Member describe a
	// MessageRouted or PolicyDenied event.
	MessageKind string
	Destination string
	Interface   string
	Member      string

	// Overflow reports that one or more events were dropped
	// immediately after this one, because the subscriber fell too
	// far behind.
	Overflow bool
}

// Feed is the broker-side broadcaster: every Emit call fans the
// event out to every currently subscribed Subscriber.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscriber]bool
}

// New returns an empty Feed.
func New() *Feed {
	return &Feed{subs: map[*Subscriber]bool{}}
}

// Subscribe registers a new Subscriber and starts its pump. Callers
// must call Close when done to release resources.
func (f *Feed) Subscribe() *Subscriber {
	s := &Subscriber{
		events:      make(chan *Event),
		wakePump:    make(chan struct{}, 1),
		pumpStopped: make(chan struct{}),
	}
	f.mu.Lock()
	f.subs[s] = true
	f.mu.Unlock()
	go s.pump()
	return s
}

func (f *Feed) unsubscribe(s *Subscriber) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Emit fans out ev to every current subscriber. It never blocks: a
// subscriber that cannot keep up has events dropped for it rather
// than stalling the router (spec §5 Backpressure applies here too).
func (f *Feed) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		s.enqueue(ev)
	}
}

// Subscriber delivers events to one dashboard connection.
type Subscriber struct {
	events      chan *Event
	wakePump    chan struct{}
	pumpStopped chan struct{}

	mu     sync.Mutex
	closed bool
	queue  queue.Queue[*Event]
}

// Chan returns the channel events are delivered on. The caller must
// drain it promptly; see Event.Overflow.
func (s *Subscriber) Chan() <-chan *Event {
	return s.events
}

func (s *Subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.queue.Len() >= maxSubscriberQueue {
		last, _ := s.queue.Peek(-1)
		last.Overflow = true
		return
	}
	s.queue.Add(&ev)
	if s.queue.Len() == 1 {
		select {
		case s.wakePump <- struct{}{}:
		default:
		}
	}
}

func (s *Subscriber) pop() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret, _ := s.queue.Pop()
	return ret
}

func (s *Subscriber) pump() {
	defer close(s.pumpStopped)
	defer close(s.events)
	for {
		ev := s.pop()
		if ev == nil {
			if _, ok := <-s.wakePump; !ok {
				return
			}
			continue
		}
	deliver:
		for {
			select {
			case s.events <- ev:
				break deliver
			case _, ok := <-s.wakePump:
				if !ok {
					return
				}
				continue
			}
		}
	}
}

// Close unsubscribes s from its Feed and stops its pump.
func (s *Subscriber) Close(f *Feed) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue.Clear()
	s.mu.Unlock()

	close(s.wakePump)
	<-s.pumpStopped
	f.unsubscribe(s)
}
