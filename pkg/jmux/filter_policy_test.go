package jmux

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePolicyYAMLSimple(t *testing.T) {
	policy, err := ParsePolicyYAML([]byte("rule: allow\n"))
	if err != nil {
		t.Fatalf("ParsePolicyYAML failed: %v", err)
	}
	if !policy.Allows(dest("tcp", "anything", 1)) {
		t.Error("expected allow rule to allow everything")
	}
}

func TestParsePolicyYAMLComposite(t *testing.T) {
	yaml := `
rule: all
rules:
  - rule: scheme
    scheme: tcp
  - rule: any
    rules:
      - rule: port
        port: 22
      - rule: wildcard_host
        host: "*.internal"
`
	policy, err := ParsePolicyYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("ParsePolicyYAML failed: %v", err)
	}

	if !policy.Allows(dest("tcp", "example.com", 22)) {
		t.Error("expected tcp on port 22 to be allowed")
	}
	if !policy.Allows(dest("tcp", "db.internal", 443)) {
		t.Error("expected tcp to *.internal to be allowed")
	}
	if policy.Allows(dest("udp", "db.internal", 22)) {
		t.Error("expected non-tcp scheme to be denied")
	}
	if policy.Allows(dest("tcp", "example.com", 443)) {
		t.Error("expected unmatched port/host combination to be denied")
	}
}

func TestParsePolicyYAMLNot(t *testing.T) {
	policy, err := ParsePolicyYAML([]byte("rule: not\nrules:\n  - rule: port\n    port: 22\n"))
	if err != nil {
		t.Fatalf("ParsePolicyYAML failed: %v", err)
	}
	if policy.Allows(dest("tcp", "x", 22)) {
		t.Error("expected negated port match to be denied")
	}
	if !policy.Allows(dest("tcp", "x", 23)) {
		t.Error("expected negated non-match to be allowed")
	}
}

func TestParsePolicyYAMLUnknownRule(t *testing.T) {
	_, err := ParsePolicyYAML([]byte("rule: bogus\n"))
	if err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}

func TestParsePolicyYAMLMalformedNot(t *testing.T) {
	_, err := ParsePolicyYAML([]byte("rule: not\n"))
	if err == nil {
		t.Fatal("expected error for \"not\" rule with no nested rule")
	}
}

func TestLoadPolicyFileEmptyPath(t *testing.T) {
	policy, err := LoadPolicyFile("")
	if err != nil {
		t.Fatalf("LoadPolicyFile(\"\") failed: %v", err)
	}
	if policy.Allows(dest("tcp", "x", 1)) {
		t.Error("expected empty path to yield deny-by-default policy")
	}
}

func TestLoadPolicyFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("rule: allow\n"), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	policy, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile failed: %v", err)
	}
	if !policy.Allows(dest("tcp", "x", 1)) {
		t.Error("expected loaded allow policy to allow")
	}
}

func TestLoadPolicyFileMissing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing policy file")
	}
}
