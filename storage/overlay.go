package storage

// Overlay buffers mutations on top of a base Database so a single ledger call
// can be executed speculatively. Reads see the buffered writes first and fall
// through to the base store. Commit applies every buffered mutation to the
// base as one unit; Discard throws them away and leaves the base untouched.
//
// Overlay is not safe for concurrent use; the node serializes call execution
// before touching it.
type Overlay struct {
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty overlay on top of the provided base store.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, ErrKeyNotFound
	}
	if value, ok := o.writes[k]; ok {
		return value, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Close satisfies the Database interface. The base store stays open.
func (o *Overlay) Close() {}

// Commit flushes the buffered mutations to the base store and resets the
// overlay so it can be reused for the next call.
func (o *Overlay) Commit() error {
	for k, v := range o.writes {
		if err := o.base.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range o.deletes {
		if err := o.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	o.reset()
	return nil
}

// Discard drops every buffered mutation.
func (o *Overlay) Discard() {
	o.reset()
}

func (o *Overlay) reset() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
