// Package proposal queues IX-F notifications during an import run and
// consolidates them into one digest per network and one per exchange.
package proposal

import (
	"sync"

	"ixfnotify/internal/ixf"
)

// Notification is a queued proposal notice.
//
// AC, IX and Net select who should hear about it: AC through a ticket,
// IX and Net through email.
type Notification struct {
	Instance *ixf.Instance
	Type     ixf.Type
	Action   ixf.Action
	AC       bool
	IX       bool
	Net      bool
	Context  map[string]any
}

// Queue collects notifications in arrival order. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Notification
}

func (q *Queue) Add(n Notification) {
	if n.Action == "" && n.Instance != nil {
		n.Action = n.Instance.Action
	}
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain returns the queued notifications and empties the queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	return out
}

// Proposals are the rendered messages about one counterpart, bucketed by
// action. ProtocolConflict holds at most one message and is not counted.
type Proposals struct {
	Name             string
	Add              []string
	Modify           []string
	Delete           []string
	ProtocolConflict string
}

// Digest is everything one entity (a network or an exchange) is told.
type Digest struct {
	Key      int64
	Name     string
	Contacts []string
	Count    int
	Entity   *ixf.Instance

	order     []int64
	proposals map[int64]*Proposals
}

// Proposals returns the per-counterpart proposals in first-seen order.
func (d *Digest) Proposals() []*Proposals {
	out := make([]*Proposals, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.proposals[k])
	}
	return out
}

func (d *Digest) proposalsFor(key int64, name string) *Proposals {
	if d.proposals == nil {
		d.proposals = map[int64]*Proposals{}
	}
	p, ok := d.proposals[key]
	if !ok {
		p = &Proposals{Name: name}
		d.proposals[key] = p
		d.order = append(d.order, key)
	}
	return p
}

// Digests is an insertion-ordered set of digests keyed by entity id.
type Digests struct {
	order []int64
	byKey map[int64]*Digest
}

func (ds *Digests) get(key int64, name string, contacts []string, entity *ixf.Instance) *Digest {
	if ds.byKey == nil {
		ds.byKey = map[int64]*Digest{}
	}
	d, ok := ds.byKey[key]
	if !ok {
		d = &Digest{Key: key, Name: name, Contacts: contacts, Entity: entity}
		ds.byKey[key] = d
		ds.order = append(ds.order, key)
	}
	return d
}

func (ds *Digests) Len() int { return len(ds.order) }

// Get returns the digest for key, if any.
func (ds *Digests) Get(key int64) (*Digest, bool) {
	d, ok := ds.byKey[key]
	return d, ok
}

// All returns the digests in first-seen order.
func (ds *Digests) All() []*Digest {
	out := make([]*Digest, 0, len(ds.order))
	for _, k := range ds.order {
		out = append(out, ds.byKey[k])
	}
	return out
}

// Result is the outcome of Consolidate.
type Result struct {
	// Net is keyed by network ASN, IX by exchange id.
	Net Digests
	IX  Digests
	// NeedsTicket lists notifications lacking contacts on either side.
	NeedsTicket []Notification
}
