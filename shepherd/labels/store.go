// Package labels implements the durable per-block label store. A label is a
// (tag, timestamp) pair attached to a block, describing a property of the
// block and the simulation time at which it was last asserted. Stores are
// transient: one is created for a block when it is processed, hydrated from
// the persistent key-value store, mutated through staging, and thrown away
// after its committed state has been saved again.
package labels

import (
	"sort"
	"strconv"
	"strings"
)

// Label is a tag attached to a block together with the simulation time at
// which it was created or last refreshed.
type Label struct {
	Tag       string
	Timestamp int64
}

// KV is the part of the persistent key-value store that the label store
// consumes. Keys passed to it are internal block identities.
type KV interface {
	// GetString returns the value stored under a key and whether a value
	// was present at all.
	GetString(key string) (string, bool)
	// SetString stores a value under a key, overwriting any previous value.
	SetString(key, value string) error
}

type stagedOp uint8

const (
	stagedAdd stagedOp = iota
	stagedRemove
)

// Store holds the labels of a single block: a committed map mirroring the
// persisted state and a staged map of pending intent that has not yet been
// folded into it.
type Store struct {
	key       string
	committed map[string]Label
	staged    map[string]stagedOp
}

// Load creates a Store for the block stored under the internal identity key
// passed, hydrating the committed map from the key-value store. A missing or
// corrupt stored value yields an empty committed map, never an error.
func Load(kv KV, key string) *Store {
	s := &Store{key: key, committed: map[string]Label{}, staged: map[string]stagedOp{}}
	if raw, ok := kv.GetString(key); ok {
		for _, l := range decodeLabels([]byte(raw)) {
			s.committed[l.Tag] = l
		}
	}
	return s
}

// Key returns the internal storage identity the Store was loaded under.
func (s *Store) Key() string { return s.key }

// StageAdd stages the tags passed for addition. Staging an addition for a
// tag with a pending removal cancels the removal instead, leaving no staged
// change for that tag.
func (s *Store) StageAdd(tags ...string) {
	for _, tag := range tags {
		if op, ok := s.staged[tag]; ok && op == stagedRemove {
			delete(s.staged, tag)
			continue
		}
		s.staged[tag] = stagedAdd
	}
}

// StageRemove stages the tags passed for removal. Staging a removal for a
// tag with a pending addition cancels the addition instead, leaving no
// staged change for that tag.
func (s *Store) StageRemove(tags ...string) {
	for _, tag := range tags {
		if op, ok := s.staged[tag]; ok && op == stagedAdd {
			delete(s.staged, tag)
			continue
		}
		s.staged[tag] = stagedRemove
	}
}

// StagedCount returns the number of tags with a pending staged change.
func (s *Store) StagedCount() int { return len(s.staged) }

// Commit folds the staged map into the committed map, clearing it. Staged
// additions create a label stamped with the simulation time passed, or
// refresh the timestamp of an existing label for the same tag. Committing
// with nothing staged leaves the committed map unchanged. Commit reports
// whether anything was folded, so callers can skip persisting an unchanged
// store.
func (s *Store) Commit(now int64) bool {
	changed := len(s.staged) > 0
	for tag, op := range s.staged {
		switch op {
		case stagedAdd:
			s.committed[tag] = Label{Tag: tag, Timestamp: now}
		case stagedRemove:
			delete(s.committed, tag)
		}
	}
	clear(s.staged)
	return changed
}

// ContainsAll reports whether the committed map holds a label for every tag
// passed. It is vacuously true for an empty tag set.
func (s *Store) ContainsAll(tags ...string) bool {
	for _, tag := range tags {
		if _, ok := s.committed[tag]; !ok {
			return false
		}
	}
	return true
}

// ContainsAny reports whether the committed map holds a label for at least
// one of the tags passed. It is vacuously true for an empty tag set.
func (s *Store) ContainsAny(tags ...string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if _, ok := s.committed[tag]; ok {
			return true
		}
	}
	return false
}

// Filter returns the committed labels matching the tags passed, or nil if
// none match. The returned labels are sorted by tag for determinism.
func (s *Store) Filter(tags ...string) []Label {
	var matched []Label
	for _, tag := range tags {
		if l, ok := s.committed[tag]; ok {
			matched = append(matched, l)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Tag < matched[j].Tag })
	return matched
}

// Oldest returns the committed label with the minimum timestamp among those
// matching the tags passed. Ties are broken by the lexicographically
// smallest tag, so the result is deterministic. The second return value is
// false if no tag matched.
func (s *Store) Oldest(tags ...string) (Label, bool) {
	var (
		oldest Label
		found  bool
	)
	for _, l := range s.Filter(tags...) {
		if !found || l.Timestamp < oldest.Timestamp {
			oldest, found = l, true
		}
	}
	return oldest, found
}

// Len returns the number of committed labels.
func (s *Store) Len() int { return len(s.committed) }

// Save serialises the committed map and persists it under the block's
// storage key.
func (s *Store) Save(kv KV) error {
	all := make([]Label, 0, len(s.committed))
	for _, l := range s.committed {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Tag < all[j].Tag })
	return kv.SetString(s.key, string(encodeLabels(all)))
}

// Describe returns a human-readable dump of the committed labels, used by
// the administrative status surface.
func (s *Store) Describe() string {
	all := s.keys()
	if len(all) == 0 {
		return "(no labels)"
	}
	var b strings.Builder
	for i, tag := range all {
		if i > 0 {
			b.WriteString(", ")
		}
		l := s.committed[tag]
		b.WriteString(l.Tag)
		b.WriteString("@")
		b.WriteString(strconv.FormatInt(l.Timestamp, 10))
	}
	return b.String()
}

func (s *Store) keys() []string {
	all := make([]string, 0, len(s.committed))
	for tag := range s.committed {
		all = append(all, tag)
	}
	sort.Strings(all)
	return all
}
