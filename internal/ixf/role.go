package ixf

import (
	"fmt"

	yaml "go.yaml.in/yaml/v3"
)

// Role is the audience a notification is rendered for.
type Role int

const (
	// RoleUnknown matches no role specific block.
	RoleUnknown Role = iota
	// RoleAC is the administrative committee reviewing proposals.
	RoleAC
	// RoleNet is the network operator.
	RoleNet
	// RoleIX is the exchange operator.
	RoleIX
)

// ParseRole maps the wire value of a recipient to a Role. Matching is
// exact; anything unrecognised is RoleUnknown.
func ParseRole(s string) Role {
	switch s {
	case "ac":
		return RoleAC
	case "net":
		return RoleNet
	case "ix":
		return RoleIX
	default:
		return RoleUnknown
	}
}

// String returns the wire value ("ac", "net", "ix"), or "" for RoleUnknown.
func (r Role) String() string {
	switch r {
	case RoleAC:
		return "ac"
	case RoleNet:
		return "net"
	case RoleIX:
		return "ix"
	default:
		return ""
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}

func (r *Role) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("ixf: recipient must be a string")
	}
	*r = ParseRole(node.Value)
	return nil
}
