package store

// Clone creates a transaction-scoped layer on top of o. Writes stay in the
// clone until Commit; reads fall through to o.
func (o *Overlay) Clone() *Overlay {
	return &Overlay{
		db:      o.db,
		parent:  o,
		pending: make(map[string]entry),
	}
}

// Commit merges the clone into the layer it was created from. The clone must
// not be used afterwards.
func (o *Overlay) Commit() {
	parent := o.parent
	if parent == nil {
		return
	}
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	parent.mu.Lock()
	for k, e := range pending {
		parent.pending[k] = e
	}
	parent.mu.Unlock()
}

// IsRoot reports whether o is a block overlay rather than a transaction
// layer.
func (o *Overlay) IsRoot() bool { return o.parent == nil }
