package tool

// Entry binds a descriptor to the provider that owns it.
type Entry struct {
	Provider   string
	Descriptor *Descriptor
}

// Catalog is the cached tool list of one provider.
type Catalog struct {
	Provider string
	Tools    []*Descriptor
}

// Collision records a descriptor hidden because an earlier provider already
// registered the same tool name.
type Collision struct {
	Tool     string
	Kept     string
	Shadowed string
}

// Registry is an immutable snapshot of every tool reachable through Ready
// providers. Build a new one with NewRegistry rather than mutating.
type Registry struct {
	entries    map[string]Entry
	order      []string
	collisions []Collision
}

// NewRegistry merges catalogs in the order given. When two providers expose
// the same tool name the first one wins and the other is recorded as a Collision.
func NewRegistry(catalogs ...Catalog) *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for _, cat := range catalogs {
		for _, d := range cat.Tools {
			if d == nil || d.Name == "" {
				continue
			}
			if existing, ok := r.entries[d.Name]; ok {
				if existing.Provider != cat.Provider {
					r.collisions = append(r.collisions, Collision{
						Tool:     d.Name,
						Kept:     existing.Provider,
						Shadowed: cat.Provider,
					})
				}
				continue
			}
			r.entries[d.Name] = Entry{Provider: cat.Provider, Descriptor: d}
			r.order = append(r.order, d.Name)
		}
	}
	return r
}

// Lookup returns the entry for a tool name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns every entry in registration order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	entries := r.Entries()
	out := make([]*Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Descriptor)
	}
	return out
}

// Len returns the number of distinct tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Collisions lists the descriptors hidden by first-registered-wins.
func (r *Registry) Collisions() []Collision {
	if r == nil {
		return nil
	}
	return append([]Collision(nil), r.collisions...)
}
