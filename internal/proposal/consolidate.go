package proposal

import (
	"errors"
	"fmt"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/render"
)

// TemplateRenderer is the part of render.Renderer consolidation needs.
type TemplateRenderer interface {
	RenderTemplate(name string, rc ixf.RenderContext) (string, error)
}

// Consolidate renders every notification for its network and exchange
// recipients and groups the messages per entity.
//
// Resolved notifications and hidden requirements of other proposals are
// skipped. Render failures are collected and returned together; the
// remaining notifications are still consolidated.
func Consolidate(ns []Notification, r TemplateRenderer) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, n := range ns {
		in := n.Instance
		if in == nil || n.Type == ixf.TypeResolved || in.RequirementOf != 0 {
			continue
		}
		if len(in.IXContacts) == 0 || len(in.NetContacts) == 0 {
			res.NeedsTicket = append(res.NeedsTicket, n)
		}

		tpl := render.TemplateFor(n.Type, true)
		bucket := bucketFor(n)

		netDigest := res.Net.get(in.ASN, netLabel(in), in.NetContacts, in)
		netProps := netDigest.proposalsFor(in.IXID, in.IXName)
		ixDigest := res.IX.get(in.IXID, in.IXName, in.IXContacts, in)
		ixProps := ixDigest.proposalsFor(in.ASN, netLabel(in))

		if n.Net {
			msg, err := renderFor(r, tpl, n, ixf.RoleNet)
			if err != nil {
				errs = append(errs, err)
			} else if bucket.push(netProps, msg) {
				netDigest.Count++
			}
		}
		if n.IX {
			msg, err := renderFor(r, tpl, n, ixf.RoleIX)
			if err != nil {
				errs = append(errs, err)
			} else if bucket.push(ixProps, msg) {
				ixDigest.Count++
			}
		}
	}
	return res, errors.Join(errs...)
}

type bucket int

const (
	bucketAdd bucket = iota
	bucketModify
	bucketDelete
	bucketProtocolConflict
)

func bucketFor(n Notification) bucket {
	if n.Type == ixf.TypeProtocolConflict {
		return bucketProtocolConflict
	}
	switch n.Action {
	case ixf.ActionAdd:
		return bucketAdd
	case ixf.ActionDelete:
		return bucketDelete
	default:
		return bucketModify
	}
}

// push stores msg and reports whether it counts towards the digest total.
func (b bucket) push(p *Proposals, msg string) bool {
	switch b {
	case bucketAdd:
		p.Add = append(p.Add, msg)
	case bucketDelete:
		p.Delete = append(p.Delete, msg)
	case bucketProtocolConflict:
		p.ProtocolConflict = msg
		return false
	default:
		p.Modify = append(p.Modify, msg)
	}
	return true
}

func renderFor(r TemplateRenderer, tpl string, n Notification, role ixf.Role) (string, error) {
	out, err := r.RenderTemplate(tpl, ixf.RenderContext{
		Instance:  n.Instance,
		Recipient: role,
		IXFURL:    n.Instance.IXFURL,
		Extra:     n.Context,
	})
	if err != nil {
		return "", fmt.Errorf("proposal: %s for %s: %w", tpl, role, err)
	}
	return out, nil
}

func netLabel(in *ixf.Instance) string {
	if in.NetName == "" {
		return fmt.Sprintf("AS%d", in.ASN)
	}
	return fmt.Sprintf("AS%d %s", in.ASN, in.NetName)
}
