package jmux

import (
	"strings"

	"github.com/pkg/errors"
)

// Policy is a composable predicate tree deciding whether a requested
// destination may be opened (spec §4.6). It is grounded on the Rust
// original's FilteringRule: Deny, Allow, Not, All, Any, Host, Port, Scheme,
// HostAndPort, and WildcardHost leaves, combined with and/or builders.
//
// Evaluation is short-circuiting and total: for any (scheme, host, port)
// triple, Allows terminates and returns a decision, with no I/O and no DNS.
type Policy struct {
	kind     policyKind
	sub      []Policy
	host     string
	port     uint16
	scheme   string
	wildcard string
}

type policyKind int

const (
	policyDeny policyKind = iota
	policyAllow
	policyNot
	policyAll
	policyAny
	policyHost
	policyPort
	policyScheme
	policyHostAndPort
	policyWildcardHost
)

// Deny always rejects.
func Deny() Policy { return Policy{kind: policyDeny} }

// Allow always accepts.
func Allow() Policy { return Policy{kind: policyAllow} }

// Host matches an exact host string.
func Host(host string) Policy { return Policy{kind: policyHost, host: host} }

// Port matches an exact port number.
func Port(port uint16) Policy { return Policy{kind: policyPort, port: port} }

// Scheme matches an exact scheme string.
func Scheme(scheme string) Policy { return Policy{kind: policyScheme, scheme: scheme} }

// HostAndPort matches an exact host and port pair.
func HostAndPort(host string, port uint16) Policy {
	return Policy{kind: policyHostAndPort, host: host, port: port}
}

// WildcardHost matches a host pattern split on '.', right-to-left, where each
// "*" segment matches exactly one label; the number of labels must match
// (e.g. "*.example.com" matches "foo.example.com" but not
// "foo.bar.example.com" or "example.com").
func WildcardHost(pattern string) Policy { return Policy{kind: policyWildcardHost, wildcard: pattern} }

// Invert negates the rule.
func (p Policy) Invert() Policy { return Policy{kind: policyNot, sub: []Policy{p}} }

// And combines rules: the result allows only if both do. Chained And calls
// flatten into a single All node, mirroring the Rust original's builder.
func (p Policy) And(rule Policy) Policy {
	switch p.kind {
	case policyAllow:
		return rule
	case policyAll:
		return Policy{kind: policyAll, sub: append(append([]Policy{}, p.sub...), rule)}
	default:
		return Policy{kind: policyAll, sub: []Policy{p, rule}}
	}
}

// Or combines rules: the result allows if either does. Chained Or calls
// flatten into a single Any node.
func (p Policy) Or(rule Policy) Policy {
	switch p.kind {
	case policyDeny:
		return rule
	case policyAny:
		return Policy{kind: policyAny, sub: append(append([]Policy{}, p.sub...), rule)}
	default:
		return Policy{kind: policyAny, sub: []Policy{p, rule}}
	}
}

// Allows evaluates the policy against a requested destination.
func (p Policy) Allows(destination DestinationURL) bool {
	return p.eval(destination.Scheme(), destination.Host(), destination.Port())
}

func (p Policy) eval(scheme, host string, port uint16) bool {
	switch p.kind {
	case policyDeny:
		return false
	case policyAllow:
		return true
	case policyNot:
		return !p.sub[0].eval(scheme, host, port)
	case policyAll:
		for _, rule := range p.sub {
			if !rule.eval(scheme, host, port) {
				return false
			}
		}
		return true
	case policyAny:
		for _, rule := range p.sub {
			if rule.eval(scheme, host, port) {
				return true
			}
		}
		return false
	case policyHost:
		return host == p.host
	case policyPort:
		return port == p.port
	case policyScheme:
		return scheme == p.scheme
	case policyHostAndPort:
		return host == p.host && port == p.port
	case policyWildcardHost:
		return matchWildcardHost(p.wildcard, host)
	default:
		return false
	}
}

// matchWildcardHost compares labels right-to-left; "*" matches exactly one
// label and the label counts must agree.
func matchWildcardHost(pattern, host string) bool {
	expected := strings.Split(pattern, ".")
	actual := strings.Split(host, ".")
	for i, j := len(expected)-1, len(actual)-1; ; i, j = i-1, j-1 {
		expectedDone, actualDone := i < 0, j < 0
		if expectedDone && actualDone {
			return true
		}
		if expectedDone || actualDone {
			return false
		}
		if expected[i] != "*" && expected[i] != actual[j] {
			return false
		}
	}
}

// ValidateDestination returns ErrFilterDenied if the policy rejects the
// destination.
func (p Policy) ValidateDestination(destination DestinationURL) error {
	if p.Allows(destination) {
		return nil
	}
	return errors.Wrapf(ErrFilterDenied, "destination %s", destination)
}

// DefaultPolicy is the safe, whitelist-shaped default: deny everything. All
// parameters of a JmuxConfig-equivalent are meant to be opt-in, never opt-out.
func DefaultPolicy() Policy { return Deny() }

// PermissivePolicy allows every destination. Intended for a fully trusted
// gateway deployment, equivalent to the Rust original's
// FilteringRule::permissive.
func PermissivePolicy() Policy { return Allow() }

// ClientOnlyPolicy denies all inbound OPEN requests, reducing a Proxy to a
// pure client that can only open outbound channels. Equivalent to the Rust
// original's FilteringRule::client.
func ClientOnlyPolicy() Policy { return Deny() }
