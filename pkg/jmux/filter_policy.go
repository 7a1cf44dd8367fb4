package jmux

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// policyDocument is the YAML-serializable form of a Policy tree. It mirrors
// the Policy constructors (Deny, Allow, Not, All, Any, Host, Port, Scheme,
// HostAndPort, WildcardHost) one-for-one so that a policy built in Go can also
// be written in a configuration file. Only the YAML-to-Policy direction is
// implemented; there is no conversion from a Policy back to YAML.
type policyDocument struct {
	Rule  string           `yaml:"rule"`
	Host  string           `yaml:"host,omitempty"`
	Port  uint16           `yaml:"port,omitempty"`
	Scheme string          `yaml:"scheme,omitempty"`
	Rules []policyDocument `yaml:"rules,omitempty"`
}

func (d policyDocument) toPolicy() (Policy, error) {
	switch d.Rule {
	case "deny", "":
		return Deny(), nil
	case "allow":
		return Allow(), nil
	case "host":
		return Host(d.Host), nil
	case "port":
		return Port(d.Port), nil
	case "scheme":
		return Scheme(d.Scheme), nil
	case "host_and_port":
		return HostAndPort(d.Host, d.Port), nil
	case "wildcard_host":
		return WildcardHost(d.Host), nil
	case "not":
		if len(d.Rules) != 1 {
			return Policy{}, errors.New("\"not\" rule requires exactly one nested rule")
		}
		inner, err := d.Rules[0].toPolicy()
		if err != nil {
			return Policy{}, err
		}
		return inner.Invert(), nil
	case "all":
		if len(d.Rules) == 0 {
			return Policy{}, errors.New("\"all\" rule requires at least one nested rule")
		}
		combined, err := d.Rules[0].toPolicy()
		if err != nil {
			return Policy{}, err
		}
		for _, sub := range d.Rules[1:] {
			subPolicy, err := sub.toPolicy()
			if err != nil {
				return Policy{}, err
			}
			combined = combined.And(subPolicy)
		}
		return combined, nil
	case "any":
		if len(d.Rules) == 0 {
			return Policy{}, errors.New("\"any\" rule requires at least one nested rule")
		}
		combined, err := d.Rules[0].toPolicy()
		if err != nil {
			return Policy{}, err
		}
		for _, sub := range d.Rules[1:] {
			subPolicy, err := sub.toPolicy()
			if err != nil {
				return Policy{}, err
			}
			combined = combined.Or(subPolicy)
		}
		return combined, nil
	default:
		return Policy{}, errors.Errorf("unknown policy rule kind %q", d.Rule)
	}
}

// ParsePolicyYAML parses a Policy from YAML-encoded configuration, following
// the policyDocument schema.
func ParsePolicyYAML(data []byte) (Policy, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Policy{}, errors.Wrap(err, "unable to parse policy YAML")
	}
	return doc.toPolicy()
}

// LoadPolicyFile reads and parses a Policy from a YAML file on disk. An
// empty path yields DefaultPolicy (deny-by-default), consistent with the
// whitelist-shaped defaults described in spec §4.6; a path naming a file that
// cannot be read is an error.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errors.Wrapf(err, "unable to read policy file %q", path)
	}
	return ParsePolicyYAML(data)
}
