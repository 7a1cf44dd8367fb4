package jmux

import "testing"

func dest(scheme, host string, port uint16) DestinationURL {
	return NewDestinationURL(scheme, host, port)
}

func TestPolicyDenyAndAllow(t *testing.T) {
	if Deny().Allows(dest("tcp", "example.com", 22)) {
		t.Fatal("Deny() allowed a destination")
	}
	if !Allow().Allows(dest("tcp", "example.com", 22)) {
		t.Fatal("Allow() rejected a destination")
	}
}

func TestPolicyHostPortScheme(t *testing.T) {
	d := dest("tcp", "db.internal", 5432)

	if !Host("db.internal").Allows(d) {
		t.Error("Host match failed")
	}
	if Host("other.internal").Allows(d) {
		t.Error("Host mismatch wrongly allowed")
	}
	if !Port(5432).Allows(d) {
		t.Error("Port match failed")
	}
	if Port(22).Allows(d) {
		t.Error("Port mismatch wrongly allowed")
	}
	if !Scheme("tcp").Allows(d) {
		t.Error("Scheme match failed")
	}
	if Scheme("udp").Allows(d) {
		t.Error("Scheme mismatch wrongly allowed")
	}
	if !HostAndPort("db.internal", 5432).Allows(d) {
		t.Error("HostAndPort match failed")
	}
	if HostAndPort("db.internal", 22).Allows(d) {
		t.Error("HostAndPort mismatch wrongly allowed")
	}
}

func TestPolicyAndOr(t *testing.T) {
	rule := Host("db.internal").And(Port(5432))
	if !rule.Allows(dest("tcp", "db.internal", 5432)) {
		t.Error("And of matching rules should allow")
	}
	if rule.Allows(dest("tcp", "db.internal", 1)) {
		t.Error("And should reject when one side fails")
	}

	either := Port(22).Or(Port(80))
	if !either.Allows(dest("tcp", "x", 22)) || !either.Allows(dest("tcp", "x", 80)) {
		t.Error("Or should allow when either side matches")
	}
	if either.Allows(dest("tcp", "x", 443)) {
		t.Error("Or should reject when neither side matches")
	}
}

func TestPolicyInvert(t *testing.T) {
	rule := Port(22).Invert()
	if rule.Allows(dest("tcp", "x", 22)) {
		t.Error("inverted rule should reject its match")
	}
	if !rule.Allows(dest("tcp", "x", 23)) {
		t.Error("inverted rule should allow a non-match")
	}
}

func TestPolicyWildcardHost(t *testing.T) {
	rule := WildcardHost("*.example.com")

	cases := []struct {
		host string
		want bool
	}{
		{"foo.example.com", true},
		{"bar.example.com", true},
		{"foo.bar.example.com", false}, // one label too many
		{"example.com", false},         // one label too few
		{"foo.example.org", false},
	}
	for _, c := range cases {
		if got := rule.Allows(dest("tcp", c.host, 1)); got != c.want {
			t.Errorf("WildcardHost(*.example.com).Allows(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}

func TestPolicyValidateDestination(t *testing.T) {
	policy := Host("allowed.example.com")
	if err := policy.ValidateDestination(dest("tcp", "allowed.example.com", 1)); err != nil {
		t.Errorf("expected allowed destination to validate, got %v", err)
	}
	err := policy.ValidateDestination(dest("tcp", "denied.example.com", 1))
	if err == nil {
		t.Fatal("expected denied destination to fail validation")
	}
}

func TestPresetPolicies(t *testing.T) {
	d := dest("tcp", "anything.example.com", 9999)
	if DefaultPolicy().Allows(d) {
		t.Error("DefaultPolicy should deny by default")
	}
	if !PermissivePolicy().Allows(d) {
		t.Error("PermissivePolicy should allow everything")
	}
	if ClientOnlyPolicy().Allows(d) {
		t.Error("ClientOnlyPolicy should deny all inbound opens")
	}
}

func TestPolicyAndOrFlattening(t *testing.T) {
	rule := Port(22).And(Host("a")).And(Scheme("tcp"))
	if !rule.Allows(dest("tcp", "a", 22)) {
		t.Error("chained And should allow when all hold")
	}
	if rule.Allows(dest("tcp", "a", 23)) {
		t.Error("chained And should reject when one leaf fails")
	}

	any := Port(1).Or(Port(2)).Or(Port(3))
	if !any.Allows(dest("tcp", "x", 3)) {
		t.Error("chained Or should allow a late match")
	}
	if any.Allows(dest("tcp", "x", 4)) {
		t.Error("chained Or should reject a non-match")
	}
}
