package policy

import "testing"

func TestInstallDefaultsRoot(t *testing.T) {
	var denied []string
	s := New(func(action, peer string, info MessageInfo) { denied = append(denied, action) })
	s.InstallDefaults(":1.1", 0, true)

	allow, _ := s.CheckSend(":1.1", MessageInfo{IsMethodCall: true, Destination: "com.example.Svc"})
	if !allow {
		t.Errorf("superuser send denied")
	}
	if !s.CheckOwn(":1.1", "com.example.Svc") {
		t.Errorf("superuser own denied")
	}
	if !s.CheckEavesdrop(":1.1") {
		t.Errorf("superuser eavesdrop denied")
	}
	if len(denied) != 0 {
		t.Errorf("denied callback fired for superuser: %v", denied)
	}
}

func TestInstallDefaultsLowUID(t *testing.T) {
	s := New(nil)
	s.InstallDefaults(":1.1", 500, true)
	allow, _ := s.CheckSend(":1.1", MessageInfo{IsMethodCall: true, Destination: "com.example.Svc"})
	if !allow {
		t.Errorf("low-uid send_any denied")
	}
	if !s.CheckOwn(":1.1", "com.example.Svc") {
		t.Errorf("low-uid own_any denied")
	}
	if s.CheckEavesdrop(":1.1") {
		t.Errorf("low-uid eavesdrop allowed, want denied (not superuser)")
	}
}

func TestInstallDefaultsOrdinaryUser(t *testing.T) {
	s := New(nil)
	s.InstallDefaults(":1.1", 1001, true)

	allow, errName := s.CheckSend(":1.1", MessageInfo{IsMethodCall: true, Destination: "com.example.Svc"})
	if allow {
		t.Errorf("ordinary user send to arbitrary dest allowed")
	}
	if errName != "org.freedesktop.DBus.Error.AccessDenied" {
		t.Errorf("errName = %q, want AccessDenied", errName)
	}

	allow, _ = s.CheckSend(":1.1", MessageInfo{IsMethodCall: true, Destination: "org.freedesktop.DBus"})
	if !allow {
		t.Errorf("send to bus itself denied")
	}
	if s.CheckOwn(":1.1", "com.example.Svc") {
		t.Errorf("ordinary user own allowed")
	}
}

func TestCheckSendAlwaysAllowsRepliesAndSignals(t *testing.T) {
	s := New(nil)
	s.InstallDefaults(":1.1", 1001, true)
	allow, _ := s.CheckSend(":1.1", MessageInfo{IsReply: true, Destination: "com.example.Svc"})
	if !allow {
		t.Errorf("reply denied")
	}
	allow, _ = s.CheckSend(":1.1", MessageInfo{IsMethodCall: false, Destination: "com.example.Svc"})
	if !allow {
		t.Errorf("signal denied")
	}
}

func TestCallGrant(t *testing.T) {
	s := New(nil)
	s.Grant(":1.1", Capability{Kind: Call, Dest: "com.example.Svc", Iface: "com.example.Iface"})
	allow, _ := s.CheckSend(":1.1", MessageInfo{
		IsMethodCall: true, Destination: "com.example.Svc", Interface: "com.example.Iface", Member: "DoThing",
	})
	if !allow {
		t.Errorf("whole-interface call grant denied")
	}
	allow, _ = s.CheckSend(":1.1", MessageInfo{
		IsMethodCall: true, Destination: "com.example.Svc", Interface: "com.example.Other", Member: "DoThing",
	})
	if allow {
		t.Errorf("call grant leaked to unrelated interface")
	}
}

func TestForgetDropsGrants(t *testing.T) {
	s := New(nil)
	s.InstallDefaults(":1.1", 0, true)
	s.Forget(":1.1")
	if s.isSuperuser(":1.1") {
		t.Errorf("superuser grant survived Forget")
	}
}
