// Package busobject implements org.freedesktop.DBus itself: the
// well-known bus name every peer can call to manage names and match
// rules (spec §4.10).
//
// Bus.Dispatch is called by the router for any message whose
// destination is absent or "org.freedesktop.DBus"; it never touches
// the wire directly, leaving serial assignment and sender/destination
// stamping to its caller.
package busobject

import (
	"fmt"

	dbus "github.com/Gao-OS/dbusbroker"
	"github.com/Gao-OS/dbusbroker/match"
	"github.com/Gao-OS/dbusbroker/policy"
	"github.com/Gao-OS/dbusbroker/registry"
)

const (
	ifaceBus            = "org.freedesktop.DBus"
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifacePeer           = "org.freedesktop.DBus.Peer"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
)

// PeerIdentity is the per-connection state Hello needs to stamp a
// unique name; *peer.Peer satisfies it structurally.
type PeerIdentity interface {
	Unique() string
	SetUnique(name string)
}

// Bus implements org.freedesktop.DBus and its companion interfaces.
type Bus struct {
	registry *registry.Registry
	policy   *policy.Store
	matches  *match.Registrar
	busID    string

	helloCalled map[PeerIdentity]bool
}

// New returns a Bus backed by the given registry, policy store, and
// match registrar.
func New(reg *registry.Registry, pol *policy.Store, matches *match.Registrar, busID string) *Bus {
	return &Bus{
		registry:    reg,
		policy:      pol,
		matches:     matches,
		busID:       busID,
		helloCalled: map[PeerIdentity]bool{},
	}
}

// BusID returns the bus's own id, the value GetId and GetMachineId
// report.
func (b *Bus) BusID() string { return b.busID }

// PeerDisconnected forgets any bookkeeping Bus kept for peer.
func (b *Bus) PeerDisconnected(peer PeerIdentity) {
	delete(b.helloCalled, peer)
}

// Dispatch handles one method call addressed to the bus object and
// returns the reply, or an error CallError to turn into an "error"
// message. Non-call messages (signals with destination == "") are
// rejected by the caller before reaching here.
func (b *Bus) Dispatch(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	switch msg.Interface {
	case "", ifaceBus:
		return b.dispatchBus(msg, from)
	case ifaceIntrospectable:
		return b.dispatchIntrospectable(msg)
	case ifacePeer:
		return b.dispatchPeer(msg)
	case ifaceProperties:
		return b.dispatchProperties(msg)
	default:
		return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownIface, Detail: fmt.Sprintf("unknown interface %q", msg.Interface)}
	}
}

func (b *Bus) dispatchBus(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	switch msg.Member {
	case "Hello":
		return b.hello(from)
	case "RequestName":
		return b.requestName(msg, from)
	case "ReleaseName":
		return b.releaseName(msg, from)
	case "GetNameOwner":
		return b.getNameOwner(msg)
	case "ListNames":
		return b.listNames(), nil, nil
	case "ListActivatableNames":
		return []dbus.Value{mustArray(dbus.TypeString)}, nil, nil
	case "NameHasOwner":
		return b.nameHasOwner(msg)
	case "AddMatch":
		return b.addMatch(msg, from)
	case "RemoveMatch":
		return b.removeMatch(msg, from)
	case "GetId":
		return []dbus.Value{dbus.String(b.busID)}, nil, nil
	default:
		return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownMethod, Detail: fmt.Sprintf("unknown method %q on %s", msg.Member, ifaceBus)}
	}
}

func (b *Bus) hello(from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	if b.helloCalled[from] {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameFailed, Detail: "Hello may only be called once per connection"}
	}
	unique := b.registry.AssignUnique()
	change := b.registry.RegisterUnique(unique)
	from.SetUnique(unique)
	b.helloCalled[from] = true
	return []dbus.Value{dbus.String(unique)}, []registry.NameChange{change}, nil
}

func (b *Bus) requestName(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	name, flags, err := nameAndFlagsArgs(msg)
	if err != nil {
		return nil, nil, err
	}
	if !b.policy.CheckOwn(from.Unique(), name) {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameAccessDenied, Detail: fmt.Sprintf("not permitted to own %q", name)}
	}
	code, change := b.registry.RequestName(name, from.Unique(), registry.RequestNameFlags(flags))
	var changes []registry.NameChange
	if change != nil {
		changes = append(changes, *change)
	}
	return []dbus.Value{dbus.Uint32(code)}, changes, nil
}

func (b *Bus) releaseName(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	name, err := stringArg(msg, 0)
	if err != nil {
		return nil, nil, err
	}
	code, change := b.registry.ReleaseName(name, from.Unique())
	var changes []registry.NameChange
	if change != nil {
		changes = append(changes, *change)
	}
	return []dbus.Value{dbus.Uint32(code)}, changes, nil
}

func (b *Bus) getNameOwner(msg *dbus.Message) ([]dbus.Value, []registry.NameChange, error) {
	name, err := stringArg(msg, 0)
	if err != nil {
		return nil, nil, err
	}
	if name == ifaceBus {
		return []dbus.Value{dbus.String(ifaceBus)}, nil, nil
	}
	owner, ok := b.registry.Resolve(name)
	if !ok {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameNoOwner, Detail: fmt.Sprintf("name %q has no owner", name)}
	}
	return []dbus.Value{dbus.String(owner)}, nil, nil
}

func (b *Bus) nameHasOwner(msg *dbus.Message) ([]dbus.Value, []registry.NameChange, error) {
	name, err := stringArg(msg, 0)
	if err != nil {
		return nil, nil, err
	}
	has := name == ifaceBus || b.registry.HasOwner(name)
	return []dbus.Value{dbus.Bool(has)}, nil, nil
}

func (b *Bus) listNames() []dbus.Value {
	names := append([]string{ifaceBus}, b.registry.Names()...)
	vals := make([]dbus.Value, len(names))
	for i, n := range names {
		vals[i] = dbus.String(n)
	}
	arr, err := dbus.NewArray(dbus.TypeString, vals)
	if err != nil {
		// Names are always well-formed strings; this cannot fail.
		panic(err)
	}
	return []dbus.Value{arr}
}

func (b *Bus) addMatch(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	rule, err := stringArg(msg, 0)
	if err != nil {
		return nil, nil, err
	}
	if err := b.matches.Add(from.Unique(), rule); err != nil {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameMatchInvalid, Detail: err.Error()}
	}
	return nil, nil, nil
}

func (b *Bus) removeMatch(msg *dbus.Message, from PeerIdentity) ([]dbus.Value, []registry.NameChange, error) {
	rule, err := stringArg(msg, 0)
	if err != nil {
		return nil, nil, err
	}
	if !b.matches.Remove(from.Unique(), rule) {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameMatchNotFound, Detail: fmt.Sprintf("no such rule %q", rule)}
	}
	return nil, nil, nil
}

func (b *Bus) dispatchPeer(msg *dbus.Message) ([]dbus.Value, []registry.NameChange, error) {
	switch msg.Member {
	case "Ping":
		return nil, nil, nil
	case "GetMachineId":
		return []dbus.Value{dbus.String(b.busID)}, nil, nil
	default:
		return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownMethod, Detail: fmt.Sprintf("unknown method %q on %s", msg.Member, ifacePeer)}
	}
}

func (b *Bus) dispatchIntrospectable(msg *dbus.Message) ([]dbus.Value, []registry.NameChange, error) {
	if msg.Member != "Introspect" {
		return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownMethod, Detail: fmt.Sprintf("unknown method %q on %s", msg.Member, ifaceIntrospectable)}
	}
	return []dbus.Value{dbus.String(introspectXML)}, nil, nil
}

// busInterfaces lists the interfaces this bus object itself
// implements, the value its Properties.Interfaces property reports.
var busInterfaces = []string{ifaceBus, ifaceIntrospectable, ifacePeer, ifaceProperties}

func (b *Bus) dispatchProperties(msg *dbus.Message) ([]dbus.Value, []registry.NameChange, error) {
	switch msg.Member {
	case "Get":
		iface, err := stringArg(msg, 0)
		if err != nil {
			return nil, nil, err
		}
		name, err := stringArg(msg, 1)
		if err != nil {
			return nil, nil, err
		}
		val, ok := b.property(name)
		if iface != ifaceBus || !ok {
			return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownProp, Detail: fmt.Sprintf("unknown property %q on %s", name, iface)}
		}
		return []dbus.Value{&dbus.Variant{Value: val}}, nil, nil
	case "GetAll":
		entryType, err := dbus.DictEntryOf(dbus.TypeString, dbus.TypeVariant)
		if err != nil {
			panic(err)
		}
		entries := make([]dbus.Value, 0, len(busPropertyNames))
		for _, name := range busPropertyNames {
			val, _ := b.property(name)
			entries = append(entries, &dbus.DictEntry{Key: dbus.String(name), Val: &dbus.Variant{Value: val}})
		}
		dict, err := dbus.NewArray(entryType, entries)
		if err != nil {
			panic(err)
		}
		return []dbus.Value{dict}, nil, nil
	default:
		return nil, nil, dbus.CallError{Name: dbus.ErrNameUnknownMethod, Detail: fmt.Sprintf("unknown method %q on %s", msg.Member, ifaceProperties)}
	}
}

var busPropertyNames = []string{"Features", "Interfaces"}

// property resolves one of org.freedesktop.DBus's two documented
// properties (spec §4.10): Features is always empty (the broker
// advertises no optional wire features), Interfaces lists the
// interfaces the bus object itself answers to.
func (b *Bus) property(name string) (dbus.Value, bool) {
	switch name {
	case "Features":
		return mustArray(dbus.TypeString), true
	case "Interfaces":
		vals := make([]dbus.Value, len(busInterfaces))
		for i, iface := range busInterfaces {
			vals[i] = dbus.String(iface)
		}
		arr, err := dbus.NewArray(dbus.TypeString, vals)
		if err != nil {
			panic(err)
		}
		return arr, true
	default:
		return nil, false
	}
}

func mustArray(elem dbus.Type) dbus.Value {
	a, err := dbus.NewArray(elem, nil)
	if err != nil {
		panic(err)
	}
	return a
}

func stringArg(msg *dbus.Message, idx int) (string, error) {
	if idx >= len(msg.Body) {
		return "", dbus.CallError{Name: dbus.ErrNameFailed, Detail: "missing argument"}
	}
	s, ok := msg.Body[idx].(dbus.String)
	if !ok {
		return "", dbus.CallError{Name: dbus.ErrNameFailed, Detail: "argument type mismatch, want string"}
	}
	return string(s), nil
}

func nameAndFlagsArgs(msg *dbus.Message) (string, uint32, error) {
	name, err := stringArg(msg, 0)
	if err != nil {
		return "", 0, err
	}
	if len(msg.Body) < 2 {
		return "", 0, dbus.CallError{Name: dbus.ErrNameFailed, Detail: "missing flags argument"}
	}
	flags, ok := msg.Body[1].(dbus.Uint32)
	if !ok {
		return "", 0, dbus.CallError{Name: dbus.ErrNameFailed, Detail: "flags argument type mismatch, want uint32"}
	}
	return name, uint32(flags), nil
}
