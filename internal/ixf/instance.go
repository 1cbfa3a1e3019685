package ixf

import (
	"fmt"
	"time"
)

// Action is what a proposal would do to the network's exchange connection.
type Action string

const (
	ActionAdd    Action = "add"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
	ActionNoop   Action = "noop"
)

// Instance is one IX-F member data proposal: the difference between what
// the exchange publishes for a network and what PeeringDB has on record.
type Instance struct {
	ID      int64  `json:"id,omitempty" yaml:"id"`
	ASN     int64  `json:"asn" yaml:"asn"`
	NetID   int64  `json:"net_id,omitempty" yaml:"net_id"`
	NetName string `json:"net_name,omitempty" yaml:"net_name"`
	IXID    int64  `json:"ix_id,omitempty" yaml:"ix_id"`
	IXName  string `json:"ix_name,omitempty" yaml:"ix_name"`
	IXLanID int64  `json:"ixlan_id,omitempty" yaml:"ixlan_id"`
	// IXFURL is the member export URL of the exchange LAN.
	IXFURL string `json:"ixf_url,omitempty" yaml:"ixf_url"`

	IPAddr4     string `json:"ipaddr4,omitempty" yaml:"ipaddr4"`
	IPAddr6     string `json:"ipaddr6,omitempty" yaml:"ipaddr6"`
	Speed       int64  `json:"speed,omitempty" yaml:"speed"`
	IsRSPeer    bool   `json:"is_rs_peer,omitempty" yaml:"is_rs_peer"`
	Operational bool   `json:"operational,omitempty" yaml:"operational"`

	Action Action `json:"action,omitempty" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason"`
	Error  string `json:"error,omitempty" yaml:"error"`

	RemoteChanges ChangeSet `json:"remote_changes" yaml:"remote_changes"`

	ACURL  string `json:"ac_url,omitempty" yaml:"ac_url"`
	NetURL string `json:"net_url,omitempty" yaml:"net_url"`

	NetContacts []string `json:"net_contacts,omitempty" yaml:"net_contacts"`
	IXContacts  []string `json:"ix_contacts,omitempty" yaml:"ix_contacts"`

	// Requirements are proposals that must be applied together with this
	// one; RequirementOf is set on those hidden requirements.
	Requirements  []int64 `json:"requirements,omitempty" yaml:"requirements"`
	RequirementOf int64   `json:"requirement_of,omitempty" yaml:"requirement_of"`

	// ActionableForNetwork is false when the network cannot act on the
	// proposal itself (e.g. it is not present at the exchange).
	ActionableForNetwork bool `json:"actionable_for_network,omitempty" yaml:"actionable_for_network"`

	TicketID  int64     `json:"ticket_id,omitempty" yaml:"ticket_id"`
	TicketRef string    `json:"ticket_ref,omitempty" yaml:"ticket_ref"`
	Created   time.Time `json:"created,omitempty" yaml:"created"`
}

// Key identifies the connection a proposal is about.
func (in *Instance) Key() string {
	if in == nil {
		return ""
	}
	return fmt.Sprintf("AS%d|%d|%s|%s", in.ASN, in.IXLanID, in.IPAddr4, in.IPAddr6)
}

// String is the short human label used in ticket subjects.
func (in *Instance) String() string {
	if in == nil {
		return ""
	}
	s := fmt.Sprintf("AS%d", in.ASN)
	if in.IPAddr4 != "" {
		s += " " + in.IPAddr4
	}
	if in.IPAddr6 != "" {
		s += " " + in.IPAddr6
	}
	return s
}

// HasRequirements reports whether other proposals ride along with this one.
func (in *Instance) HasRequirements() bool { return in != nil && len(in.Requirements) > 0 }

// RenderContext is the input of a notification template.
type RenderContext struct {
	Instance  *Instance
	Recipient Role
	IXFURL    string
	// Extra carries template specific values (ticket days, error text, ...).
	Extra map[string]any
}

// IXLan is the exchange LAN an IX-F feed belongs to.
type IXLan struct {
	ID       int64    `json:"id" yaml:"id"`
	IXID     int64    `json:"ix_id" yaml:"ix_id"`
	IXName   string   `json:"ix_name" yaml:"ix_name"`
	IXFURL   string   `json:"ixf_url" yaml:"ixf_url"`
	Contacts []string `json:"contacts,omitempty" yaml:"contacts"`
}

// Instance returns the placeholder proposal used to address the exchange
// about its feed as a whole.
func (l IXLan) Instance() *Instance {
	return &Instance{IXLanID: l.ID, IXID: l.IXID, IXName: l.IXName, IXFURL: l.IXFURL, IXContacts: l.Contacts}
}
