package match

import (
	"testing"

	dbus "github.com/Gao-OS/dbusbroker"
)

func TestRegistrarAddRemoveAndMatch(t *testing.T) {
	r := NewRegistrar()
	if err := r.Add(":1.1", "type='signal',member='Tick'"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(":1.2", "type='signal',member='Tock'"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	msg := &dbus.Message{Kind: dbus.Signal, Member: "Tick"}
	peers := r.MatchingPeers(msg)
	if len(peers) != 1 || peers[0] != ":1.1" {
		t.Errorf("MatchingPeers = %v, want [:1.1]", peers)
	}

	if !r.Remove(":1.1", "type='signal',member='Tick'") {
		t.Errorf("Remove reported not found")
	}
	if r.Remove(":1.1", "type='signal',member='Tick'") {
		t.Errorf("second Remove reported found")
	}
	if peers := r.MatchingPeers(msg); len(peers) != 0 {
		t.Errorf("MatchingPeers after Remove = %v, want none", peers)
	}
}

func TestRegistrarAddInvalidRule(t *testing.T) {
	r := NewRegistrar()
	if err := r.Add(":1.1", "bogus"); err == nil {
		t.Errorf("Add with malformed rule succeeded, want error")
	}
}

func TestRegistrarPeerDisconnected(t *testing.T) {
	r := NewRegistrar()
	r.Add(":1.1", "type='signal'")
	if !r.HasRules(":1.1") {
		t.Fatalf("HasRules = false after Add")
	}
	r.PeerDisconnected(":1.1")
	if r.HasRules(":1.1") {
		t.Errorf("HasRules = true after PeerDisconnected")
	}
	msg := &dbus.Message{Kind: dbus.Signal}
	if peers := r.MatchingPeers(msg); len(peers) != 0 {
		t.Errorf("MatchingPeers after disconnect = %v, want none", peers)
	}
}
