package symphonycore

// OrderedMap is an insertion-ordered string-keyed map of Values. It backs
// every ordered string-to-value mapping in this package: stimulus
// parameters, epoch protocol parameters, epoch/entity properties, and node
// configuration dictionaries.
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

// Set inserts or updates the value for key. New keys are appended to the
// iteration order; updating an existing key preserves its original position.
func (m *OrderedMap) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key, if present.
func (m *OrderedMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// Clone returns a deep-enough copy (Values are immutable by convention, so
// only the map/slice scaffolding is copied).
func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// Equal compares two OrderedMaps by content, ignoring key order.
func (m *OrderedMap) Equal(other *OrderedMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.keys {
		v, ok := other.Get(k)
		if !ok || !m.values[k].Equal(v) {
			return false
		}
	}
	return true
}
