package dbus

import "testing"

func TestParseSignatureRoundTrip(t *testing.T) {
	tests := []string{
		"y", "b", "n", "q", "i", "u", "x", "t", "d", "s", "o", "g", "h", "v",
		"ay", "as", "aay",
		"(nb)", "(y(nb))", "a(nb)",
		"a{sv}", "a{yv}",
	}
	for _, sig := range tests {
		typ, err := ParseSignature(sig)
		if err != nil {
			t.Errorf("ParseSignature(%q): %v", sig, err)
			continue
		}
		if got := typ.String(); got != sig {
			t.Errorf("ParseSignature(%q).String() = %q, want %q", sig, got, sig)
		}
	}
}

func TestParseSignatureErrors(t *testing.T) {
	tests := []string{
		"",
		"z",
		"(ab",
		"{sv}",
		"a{sv",
		"()",
		"nb",      // two complete types, not a single signature
		"a{(y)s}", // struct key in dict entry
	}
	for _, sig := range tests {
		if _, err := ParseSignature(sig); err == nil {
			t.Errorf("ParseSignature(%q) succeeded, want error", sig)
		}
	}
}

func TestParseTypesSequence(t *testing.T) {
	got, err := ParseTypes("ysa{sv}")
	if err != nil {
		t.Fatalf("ParseTypes: %v", err)
	}
	want := []string{"y", "s", "a{sv}"}
	if len(got) != len(want) {
		t.Fatalf("got %d types, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("type %d = %q, want %q", i, got[i].String(), w)
		}
	}
}

func TestAlignment(t *testing.T) {
	tests := []struct {
		sig  string
		want int
	}{
		{"y", 1}, {"g", 1}, {"v", 1},
		{"n", 2}, {"q", 2},
		{"b", 4}, {"i", 4}, {"u", 4}, {"s", 4}, {"o", 4}, {"h", 4}, {"as", 4},
		{"x", 8}, {"t", 8}, {"d", 8}, {"(ib)", 8}, {"a{sv}", 4},
	}
	for _, tc := range tests {
		typ, err := ParseSignature(tc.sig)
		if err != nil {
			t.Fatalf("ParseSignature(%q): %v", tc.sig, err)
		}
		if got := typ.Alignment(); got != tc.want {
			t.Errorf("Alignment(%q) = %d, want %d", tc.sig, got, tc.want)
		}
	}
}
