// Package render turns IX-F proposals into notification bodies.
//
// Templates use Django syntax (pongo2) and are embedded from templates/.
// All templates are compiled in New; a Renderer is read-only afterwards and
// safe for concurrent use.
package render

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v6"

	"ixfnotify/internal/ixf"
	"ixfnotify/pkg/htmlx"
	logx "ixfnotify/pkg/logx"
)

//go:embed templates/*.txt
var templatesFS embed.FS

const templateExt = ".txt"

// Template names.
const (
	TemplateChangesInline          = "notify-ixf-changes-inline"
	TemplateConsolidated           = "notify-ixf-consolidated"
	TemplateSourceError            = "notify-ixf-source-error"
	TemplateProtocolConflictInline = "notify-ixf-protocol-conflict-inline"
)

var ErrUnknownTemplate = errors.New("render: unknown template")

// Renderer renders the embedded notification templates.
type Renderer struct {
	log       logx.Logger
	set       *pongo2.TemplateSet
	templates map[string]*pongo2.Template
}

// New compiles every embedded template.
func New(log logx.Logger) (*Renderer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("render: templates fs: %w", err)
	}
	names, err := fs.Glob(sub, "*"+templateExt)
	if err != nil {
		return nil, fmt.Errorf("render: list templates: %w", err)
	}

	r := &Renderer{
		log:       log,
		set:       pongo2.NewSet("ixf", pongo2.NewFSLoader(sub)),
		templates: make(map[string]*pongo2.Template, len(names)),
	}
	for _, file := range names {
		tpl, err := r.set.FromFile(file)
		if err != nil {
			return nil, fmt.Errorf("render: compile %q: %w", file, err)
		}
		r.templates[strings.TrimSuffix(path.Base(file), templateExt)] = tpl
	}
	log.Debug("templates compiled", logx.Int("count", len(r.templates)))
	return r, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew() *Renderer {
	r, err := New(logx.Nop())
	if err != nil {
		panic(err)
	}
	return r
}

// Names lists the available template names, sorted.
func (r *Renderer) Names() []string {
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render renders the change summary of rc.Instance for rc.Recipient.
//
// It never fails: unresolved values render as empty strings, and if the
// template engine errors the summary is built without it.
func (r *Renderer) Render(rc ixf.RenderContext) string {
	out, err := r.RenderTemplate(TemplateChangesInline, rc)
	if err != nil {
		r.log.Warn("change summary template failed; using fallback", logx.Err(err))
		return fallbackChanges(rc)
	}
	return out
}

// RenderTemplate renders the named template with rc.
func (r *Renderer) RenderTemplate(name string, rc ixf.RenderContext) (string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	out, err := tpl.Execute(contextFor(rc))
	if err != nil {
		return "", fmt.Errorf("render: execute %q: %w", name, err)
	}
	return out, nil
}

// TemplateFor returns the template rendering a notification of type typ.
// Inline templates are the short form used inside consolidated digests.
func TemplateFor(typ ixf.Type, inline bool) string {
	name := "notify-ixf-" + string(typ)
	if inline {
		name += "-inline"
	}
	return name
}

func contextFor(rc ixf.RenderContext) pongo2.Context {
	ctx := pongo2.Context{}
	for k, v := range rc.Extra {
		ctx[k] = v
	}
	ctx["instance"] = instanceContext(rc.Instance)
	ctx["changes"] = changesContext(rc.Instance)
	ctx["recipient"] = rc.Recipient.String()
	ctx["ixf_url"] = rc.IXFURL
	return ctx
}

func instanceContext(in *ixf.Instance) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":          in.ID,
		"asn":         in.ASN,
		"net_name":    in.NetName,
		"ix_name":     in.IXName,
		"ipaddr4":     in.IPAddr4,
		"ipaddr6":     in.IPAddr6,
		"speed":       in.Speed,
		"is_rs_peer":  in.IsRSPeer,
		"operational": in.Operational,
		"action":      string(in.Action),
		"reason":      in.Reason,
		"error":       in.Error,
		"ac_url":      in.ACURL,
		"net_url":     in.NetURL,
	}
}

func changesContext(in *ixf.Instance) []map[string]any {
	if in == nil {
		return nil
	}
	entries := in.RemoteChanges.Entries()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"name": e.Name, "from": e.From, "to": e.To})
	}
	return out
}

// fallbackChanges mirrors notify-ixf-changes-inline line for line.
func fallbackChanges(rc ixf.RenderContext) string {
	var b strings.Builder
	b.WriteString("IX-F data provides the following updates:\n")
	var acURL, netURL string
	if rc.Instance != nil {
		acURL, netURL = rc.Instance.ACURL, rc.Instance.NetURL
		for _, e := range rc.Instance.RemoteChanges.Entries() {
			fmt.Fprintf(&b, "- %s: %s to %s\n", htmlx.Esc(e.Name), htmlx.Esc(e.From), htmlx.Esc(e.To))
		}
	}
	switch rc.Recipient {
	case ixf.RoleAC:
		fmt.Fprintf(&b, "You may review and apply this proposal in the %s.\n", htmlx.Link("PeeringDB admin", acURL))
	case ixf.RoleNet:
		fmt.Fprintf(&b, "Please review the proposed changes for your network %s.\n", htmlx.Link("here", netURL))
	}
	fmt.Fprintf(&b, "IX-F source data: %s\n", htmlx.Link(rc.IXFURL, rc.IXFURL))
	return b.String()
}
