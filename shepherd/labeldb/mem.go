package labeldb

import "strconv"

// Mem is an in-memory implementation of the same key-value surface as DB.
// It backs tests and configurations that opt out of persistence; labels
// written to it last for the lifetime of the process only.
type Mem struct {
	m map[string]string
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{m: map[string]string{}}
}

// GetString returns the value stored under a key and whether it was present.
func (m *Mem) GetString(key string) (string, bool) {
	v, ok := m.m[key]
	return v, ok
}

// SetString stores a value under a key.
func (m *Mem) SetString(key, value string) error {
	m.m[key] = value
	return nil
}

// Delete removes the value stored under a key.
func (m *Mem) Delete(key string) error {
	delete(m.m, key)
	return nil
}

// GetInt returns the integer stored under a key and whether a well-formed
// integer was present.
func (m *Mem) GetInt(key string) (int64, bool) {
	s, ok := m.m[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetInt stores an integer under a key.
func (m *Mem) SetInt(key string, v int64) error {
	m.m[key] = strconv.FormatInt(v, 10)
	return nil
}

// Len returns the number of stored keys.
func (m *Mem) Len() int { return len(m.m) }
