// Package policy implements the broker's capability grant store:
// per-peer permissions and the send/own/eavesdrop checks the router
// and bus object consult before acting (spec §4.8).
package policy

import (
	"fmt"

	"github.com/creachadair/mds/mapset"
)

// Capability is a single granted permission. Capabilities beyond
// Superuser/SendAny/OwnAny carry a parameter (a destination name, or
// an interface/member pair), so Capability is a small struct rather
// than a bare string, to keep the grant set hashable without parsing.
type Capability struct {
	Kind   CapabilityKind
	Dest   string
	Iface  string
	Member string
}

type CapabilityKind int

const (
	Superuser CapabilityKind = iota + 1
	SendAny
	OwnAny
	Send // Dest
	Own  // Dest
	Call // Dest, Iface, Member (Member may be empty: whole interface)
)

func (c Capability) String() string {
	switch c.Kind {
	case Superuser:
		return "superuser"
	case SendAny:
		return "send_any"
	case OwnAny:
		return "own_any"
	case Send:
		return fmt.Sprintf("send(%s)", c.Dest)
	case Own:
		return fmt.Sprintf("own(%s)", c.Dest)
	case Call:
		if c.Member == "" {
			return fmt.Sprintf("call(%s, %s)", c.Dest, c.Iface)
		}
		return fmt.Sprintf("call(%s, %s, %s)", c.Dest, c.Iface, c.Member)
	default:
		return "unknown"
	}
}

// MessageInfo is the subset of a message the send check needs, kept
// separate from *dbus.Message so this package has no dependency on
// the wire codec.
type MessageInfo struct {
	IsMethodCall bool
	IsReply      bool // method_return or error
	Destination  string
	Interface    string
	Member       string
}

// DeniedFunc is called for every denied check, for the observer feed.
type DeniedFunc func(action, peer string, info MessageInfo)

// Store is the capability grant multimap, keyed by peer unique name.
type Store struct {
	grants map[string]mapset.Set[Capability]
	denied DeniedFunc
}

// New returns an empty Store. onDenied may be nil.
func New(onDenied DeniedFunc) *Store {
	if onDenied == nil {
		onDenied = func(string, string, MessageInfo) {}
	}
	return &Store{grants: map[string]mapset.Set[Capability]{}, denied: onDenied}
}

// Grant adds a capability to peer's grant set.
func (s *Store) Grant(peer string, c Capability) {
	set := s.grants[peer]
	if set == nil {
		set = mapset.New[Capability]()
		s.grants[peer] = set
	}
	set.Add(c)
}

// InstallDefaults grants the standard starting capability set for a
// newly connected peer based on its credentials (spec §4.8): root is
// superuser, low user ids get own_any+send_any, everyone else can
// only talk to the bus itself.
func (s *Store) InstallDefaults(peer string, uid uint32, hasUID bool) {
	switch {
	case hasUID && uid == 0:
		s.Grant(peer, Capability{Kind: Superuser})
	case hasUID && uid < 1000:
		s.Grant(peer, Capability{Kind: OwnAny})
		s.Grant(peer, Capability{Kind: SendAny})
	default:
		s.Grant(peer, Capability{Kind: Send, Dest: "org.freedesktop.DBus"})
	}
}

// Forget drops every grant belonging to peer.
func (s *Store) Forget(peer string) {
	delete(s.grants, peer)
}

func (s *Store) has(peer string, c Capability) bool {
	set := s.grants[peer]
	return set != nil && set.Has(c)
}

func (s *Store) isSuperuser(peer string) bool {
	return s.has(peer, Capability{Kind: Superuser})
}

// CheckSend reports whether peer may send the described message.
// Responses and anything addressed to the bus itself are always
// allowed; signals are allowed unconditionally (spec §4.8's
// deliberate simplification); method calls are checked against the
// peer's grants in order: superuser, send_any, send(dest),
// call(dest, iface, member), call(dest, iface).
func (s *Store) CheckSend(peer string, info MessageInfo) (allow bool, errName string) {
	if info.IsReply {
		return true, ""
	}
	if info.Destination == "" || info.Destination == "org.freedesktop.DBus" {
		return true, ""
	}
	if !info.IsMethodCall {
		return true, ""
	}

	switch {
	case s.isSuperuser(peer),
		s.has(peer, Capability{Kind: SendAny}),
		s.has(peer, Capability{Kind: Send, Dest: info.Destination}),
		s.has(peer, Capability{Kind: Call, Dest: info.Destination, Iface: info.Interface, Member: info.Member}),
		s.has(peer, Capability{Kind: Call, Dest: info.Destination, Iface: info.Interface}):
		return true, ""
	}

	s.denied("send", peer, info)
	return false, "org.freedesktop.DBus.Error.AccessDenied"
}

// CheckOwn reports whether peer may claim name.
func (s *Store) CheckOwn(peer, name string) bool {
	if s.isSuperuser(peer) || s.has(peer, Capability{Kind: OwnAny}) || s.has(peer, Capability{Kind: Own, Dest: name}) {
		return true
	}
	s.denied("own", peer, MessageInfo{Destination: name})
	return false
}

// CheckEavesdrop reports whether peer may register an eavesdropping
// match rule.
func (s *Store) CheckEavesdrop(peer string) bool {
	if s.isSuperuser(peer) {
		return true
	}
	s.denied("eavesdrop", peer, MessageInfo{})
	return false
}
