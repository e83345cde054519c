package registry

import "testing"

func TestAssignUniqueMonotonic(t *testing.T) {
	r := New()
	a := r.AssignUnique()
	b := r.AssignUnique()
	if a == b {
		t.Fatalf("AssignUnique returned duplicate names: %q", a)
	}
	if a != ":1.1" || b != ":1.2" {
		t.Errorf("got %q, %q, want :1.1, :1.2", a, b)
	}
}

func TestRegisterUniqueEmitsAppearance(t *testing.T) {
	r := New()
	unique := r.AssignUnique()
	change := r.RegisterUnique(unique)
	if change.Name != unique || change.OldOwner != "" || change.NewOwner != unique {
		t.Errorf("RegisterUnique change = %+v, want appearance of %s", change, unique)
	}
}

func TestRequestNamePrimaryAndAlreadyOwner(t *testing.T) {
	r := New()
	code, change := r.RequestName("com.example.Svc", ":1.1", 0)
	if code != PrimaryOwner {
		t.Fatalf("code = %v, want PrimaryOwner", code)
	}
	if change == nil || change.NewOwner != ":1.1" {
		t.Fatalf("change = %+v, want NewOwner :1.1", change)
	}

	code, change = r.RequestName("com.example.Svc", ":1.1", 0)
	if code != AlreadyOwner || change != nil {
		t.Errorf("repeat request = %v, %+v, want AlreadyOwner, nil", code, change)
	}
}

func TestRequestNameQueueingAndRelease(t *testing.T) {
	r := New()
	if code, _ := r.RequestName("com.example.Svc", ":1.1", 0); code != PrimaryOwner {
		t.Fatalf("first request = %v, want PrimaryOwner", code)
	}
	code, change := r.RequestName("com.example.Svc", ":1.2", 0)
	if code != InQueue || change != nil {
		t.Fatalf("second request = %v, %+v, want InQueue, nil", code, change)
	}

	rcode, change := r.ReleaseName("com.example.Svc", ":1.1")
	if rcode != Released {
		t.Fatalf("ReleaseName = %v, want Released", rcode)
	}
	if change == nil || change.OldOwner != ":1.1" || change.NewOwner != ":1.2" {
		t.Fatalf("change = %+v, want old=:1.1 new=:1.2", change)
	}
	owner, ok := r.Resolve("com.example.Svc")
	if !ok || owner != ":1.2" {
		t.Errorf("Resolve = %q, %v, want :1.2, true", owner, ok)
	}
}

func TestRequestNameDoNotQueue(t *testing.T) {
	r := New()
	r.RequestName("com.example.Svc", ":1.1", 0)
	code, _ := r.RequestName("com.example.Svc", ":1.2", FlagDoNotQueue)
	if code != Exists {
		t.Errorf("code = %v, want Exists", code)
	}
}

func TestRequestNameReplaceExisting(t *testing.T) {
	r := New()
	r.RequestName("com.example.Svc", ":1.1", FlagAllowReplacement)
	code, change := r.RequestName("com.example.Svc", ":1.2", FlagReplaceExisting)
	if code != PrimaryOwner {
		t.Fatalf("code = %v, want PrimaryOwner", code)
	}
	if change.OldOwner != ":1.1" || change.NewOwner != ":1.2" {
		t.Errorf("change = %+v, want old=:1.1 new=:1.2", change)
	}
}

func TestRequestNameReplaceDeniedWithoutAllowReplacement(t *testing.T) {
	r := New()
	r.RequestName("com.example.Svc", ":1.1", 0)
	code, _ := r.RequestName("com.example.Svc", ":1.2", FlagReplaceExisting|FlagDoNotQueue)
	if code != Exists {
		t.Errorf("code = %v, want Exists (owner did not allow replacement)", code)
	}
}

func TestReleaseNameNonExistentAndNotOwner(t *testing.T) {
	r := New()
	if code, _ := r.ReleaseName("com.example.Ghost", ":1.1"); code != NonExistent {
		t.Errorf("release of unregistered name = %v, want NonExistent", code)
	}
	r.RequestName("com.example.Svc", ":1.1", 0)
	if code, _ := r.ReleaseName("com.example.Svc", ":1.2"); code != NotOwner {
		t.Errorf("release by non-owner = %v, want NotOwner", code)
	}
}

func TestPeerDisconnectedReleasesAllOwnedNames(t *testing.T) {
	r := New()
	unique := r.AssignUnique()
	r.RegisterUnique(unique)
	r.RequestName("com.example.A", unique, 0)
	r.RequestName("com.example.B", unique, 0)
	r.RequestName("com.example.B", ":1.99", 0) // queued behind unique

	changes := r.PeerDisconnected(unique)
	if r.HasOwner("com.example.A") {
		t.Errorf("com.example.A still owned after disconnect")
	}
	owner, ok := r.Resolve("com.example.B")
	if !ok || owner != ":1.99" {
		t.Errorf("com.example.B owner = %q, %v, want :1.99, true (promoted from queue)", owner, ok)
	}

	sawUniqueGone := false
	for _, c := range changes {
		if c.Name == unique && c.NewOwner == "" {
			sawUniqueGone = true
		}
	}
	if !sawUniqueGone {
		t.Errorf("changes = %+v, want a disappearance entry for %s", changes, unique)
	}
}

func TestNamesListsOnlyOwnedNames(t *testing.T) {
	r := New()
	r.RequestName("com.example.A", ":1.1", 0)
	names := r.Names()
	if len(names) != 1 || names[0] != "com.example.A" {
		t.Errorf("Names() = %v, want [com.example.A]", names)
	}
}
