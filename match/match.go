// Package match parses and evaluates DBus match rules: the
// comma-separated key='value' filters peers register via AddMatch to
// subscribe to signals (and, in principle, any message kind).
package match

import (
	"fmt"
	"strconv"
	"strings"

	dbus "github.com/Gao-OS/dbusbroker"
	"github.com/creachadair/mds/value"
)

// Rule is a parsed match expression. Fields a rule didn't specify are
// value.Absent rather than a zero value, so an empty string can never
// be confused with "unconstrained" (spec §4.7 allows matching on the
// empty sender of a bus-originated signal).
type Rule struct {
	Type          value.Maybe[string]
	Sender        value.Maybe[string]
	Interface     value.Maybe[string]
	Member        value.Maybe[string]
	Path          value.Maybe[dbus.ObjectPath]
	PathNamespace value.Maybe[dbus.ObjectPath]
	Destination   value.Maybe[string]
	Eavesdrop     bool

	Args     map[int]string
	ArgPaths map[int]string
}

var validTypes = map[string]bool{
	"method_call":   true,
	"method_return": true,
	"error":         true,
	"signal":        true,
}

// Parse parses s, the string form of a match rule as sent to the bus
// object's AddMatch method (spec §4.7).
func Parse(s string) (*Rule, error) {
	pairs, err := splitPairs(s)
	if err != nil {
		return nil, err
	}

	r := &Rule{}
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, val, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		switch {
		case key == "type":
			if !validTypes[val] {
				return nil, fmt.Errorf("invalid type %q in match rule", val)
			}
			r.Type = value.Just(val)
		case key == "sender":
			r.Sender = value.Just(val)
		case key == "interface":
			r.Interface = value.Just(val)
		case key == "member":
			r.Member = value.Just(val)
		case key == "path":
			r.Path = value.Just(dbus.ObjectPath(val))
		case key == "path_namespace":
			r.PathNamespace = value.Just(dbus.ObjectPath(val))
		case key == "destination":
			r.Destination = value.Just(val)
		case key == "eavesdrop":
			r.Eavesdrop = val == "true"
		case strings.HasPrefix(key, "arg") && strings.HasSuffix(key, "path"):
			idx, err := argIndex(key[len("arg") : len(key)-len("path")])
			if err != nil {
				return nil, err
			}
			if r.ArgPaths == nil {
				r.ArgPaths = map[int]string{}
			}
			r.ArgPaths[idx] = val
		case strings.HasPrefix(key, "arg"):
			idx, err := argIndex(key[len("arg"):])
			if err != nil {
				return nil, err
			}
			if r.Args == nil {
				r.Args = map[int]string{}
			}
			r.Args[idx] = val
		default:
			return nil, fmt.Errorf("unknown match key %q", key)
		}
	}
	return r, nil
}

func argIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 || idx > 63 {
		return 0, fmt.Errorf("invalid arg index %q, want 0..63", s)
	}
	return idx, nil
}

// splitPairs splits s on top-level commas, respecting single-quoted
// values that may themselves contain commas.
func splitPairs(s string) ([]string, error) {
	var pairs []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			// An embedded literal quote is written as close-quote,
			// backslash, quote, quote (e.g. 'it'\''s' for it's): the
			// whole 4-byte run is consumed as a unit and leaves
			// inQuote unchanged, since it never really closes.
			if inQuote && i+3 < len(s) && s[i+1] == '\\' && s[i+2] == '\'' && s[i+3] == '\'' {
				cur.WriteByte(s[i])
				cur.WriteByte(s[i+1])
				cur.WriteByte(s[i+2])
				cur.WriteByte(s[i+3])
				i += 3
				continue
			}
			cur.WriteByte(c)
			inQuote = !inQuote
		case c == ',' && !inQuote:
			pairs = append(pairs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in match rule %q", s)
	}
	pairs = append(pairs, cur.String())
	return pairs, nil
}

// splitPair splits a single key='value' pair and unquotes the value.
func splitPair(s string) (key, val string, err error) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return "", "", fmt.Errorf("malformed match rule component %q", s)
	}
	key = s[:i]
	raw := s[i+1:]
	if len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return "", "", fmt.Errorf("match value %q is not quoted", raw)
	}
	inner := raw[1 : len(raw)-1]
	if strings.Contains(strings.ReplaceAll(inner, `'\''`, ""), "'") {
		return "", "", fmt.Errorf("match value %q has an unescaped quote", raw)
	}
	val = strings.ReplaceAll(inner, `'\''`, `'`)
	return key, val, nil
}

// Matches reports whether msg satisfies r (spec §4.7).
func Matches(r *Rule, msg *dbus.Message) bool {
	if want, ok := r.Type.GetOK(); ok && want != msg.Kind.String() {
		return false
	}
	if want, ok := r.Sender.GetOK(); ok && want != msg.Sender {
		return false
	}
	if want, ok := r.Interface.GetOK(); ok && want != msg.Interface {
		return false
	}
	if want, ok := r.Member.GetOK(); ok && want != msg.Member {
		return false
	}
	if want, ok := r.Destination.GetOK(); ok && want != msg.Destination {
		return false
	}
	if want, ok := r.Path.GetOK(); ok && want != msg.Path {
		return false
	}
	if want, ok := r.PathNamespace.GetOK(); ok && msg.Path != want && !msg.Path.IsChildOf(want) {
		return false
	}
	for idx, want := range r.Args {
		got, ok := argString(msg, idx)
		if !ok || got != want {
			return false
		}
	}
	for idx, want := range r.ArgPaths {
		got, ok := argString(msg, idx)
		if !ok {
			return false
		}
		if got != want && !dbus.ObjectPath(got).IsChildOf(dbus.ObjectPath(want)) {
			return false
		}
	}
	return true
}

func argString(msg *dbus.Message, idx int) (string, bool) {
	if idx < 0 || idx >= len(msg.Body) {
		return "", false
	}
	switch v := msg.Body[idx].(type) {
	case dbus.String:
		return string(v), true
	case dbus.ObjectPath:
		return string(v), true
	default:
		return "", false
	}
}
