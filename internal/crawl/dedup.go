package crawl

// Index is the set of dedup keys already seen in one crawl session.
// It is owned by the session's crawl loop and is not safe for concurrent use.
type Index struct {
	keys map[string]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{keys: make(map[string]struct{})}
}

// Has reports whether key was added before.
func (x *Index) Has(key string) bool {
	_, ok := x.keys[key]
	return ok
}

// Add records key. Adding the same key twice is a no-op.
func (x *Index) Add(key string) {
	x.keys[key] = struct{}{}
}

// Len returns the number of distinct keys.
func (x *Index) Len() int {
	return len(x.keys)
}
