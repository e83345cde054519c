package match

import (
	"sync"

	dbus "github.com/Gao-OS/dbusbroker"
)

// Registrar holds every peer's registered match rules and answers
// matching_peers queries for signal fan-out (spec §4.7). It is the
// engine half of this package; Parse/Matches above are the pure
// grammar half.
type Registrar struct {
	mu    sync.Mutex
	rules map[string]map[string]*Rule // peer unique name -> rule string -> parsed rule
}

// NewRegistrar returns an empty Registrar.
func NewRegistrar() *Registrar {
	return &Registrar{rules: map[string]map[string]*Rule{}}
}

// Add parses and registers ruleStr for peer. It returns the parse
// error, if any, unchanged so callers can map it to MatchRuleInvalid.
func (r *Registrar) Add(peer, ruleStr string) error {
	rule, err := Parse(ruleStr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules[peer] == nil {
		r.rules[peer] = map[string]*Rule{}
	}
	r.rules[peer][ruleStr] = rule
	return nil
}

// Remove drops ruleStr from peer's registered rules. It reports
// whether the rule was present.
func (r *Registrar) Remove(peer, ruleStr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rules[peer]
	if m == nil {
		return false
	}
	if _, ok := m[ruleStr]; !ok {
		return false
	}
	delete(m, ruleStr)
	return true
}

// PeerDisconnected forgets every rule peer registered.
func (r *Registrar) PeerDisconnected(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, peer)
}

// HasRules reports whether peer has at least one registered rule.
func (r *Registrar) HasRules(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules[peer]) > 0
}

// MatchingPeers returns every peer with at least one rule matching
// msg.
func (r *Registrar) MatchingPeers(msg *dbus.Message) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for peer, rules := range r.rules {
		for _, rule := range rules {
			if Matches(rule, msg) {
				out = append(out, peer)
				break
			}
		}
	}
	return out
}
