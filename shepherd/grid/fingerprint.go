package grid

import (
	"strconv"

	"github.com/segmentio/fasthash/fnv1a"
)

// Fingerprint returns a hash of the grid configuration that affects how
// stored block keys are derived: the block edge length and the identity
// encoding version. The fingerprint is persisted next to stored labels and
// compared on startup, so that a configuration change which would silently
// remap historical keys is refused instead of corrupting them.
func Fingerprint() uint64 {
	h := fnv1a.Init64
	h = fnv1a.AddString64(h, "edge="+strconv.Itoa(Edge))
	h = fnv1a.AddString64(h, "identity=v"+strconv.Itoa(identityVersion))
	return h
}
