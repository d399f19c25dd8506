package grid

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Identity is the public identity of a block: a stable integer derived from
// its BlockPos, used as a map key wherever a block must be referenced
// without holding its data. The encoding is a bijection over the
// representable coordinate space, so an Identity converts back to exactly
// the BlockPos it was derived from.
type Identity uint64

const (
	// axisBits is the number of bits each axis occupies in an Identity.
	axisBits = 21
	axisMask = 1<<axisBits - 1
	// axisBias shifts coordinates into the unsigned range before packing.
	axisBias = 1 << (axisBits - 1)

	// MinCoordinate and MaxCoordinate bound the representable block
	// coordinate space per axis. Coordinates outside this range cannot be
	// given an identity.
	MinCoordinate = -axisBias
	MaxCoordinate = axisBias - 1

	// identityVersion tags the identity encoding. It participates in the
	// grid fingerprint persisted alongside stored labels, so that a change
	// to the encoding is caught before it can corrupt historical keys.
	identityVersion = 1
)

// Representable reports whether the block coordinate passed falls within the
// space that PublicEncode can represent.
func Representable(c BlockPos) bool {
	for i := 0; i < 3; i++ {
		if c[i] < MinCoordinate || c[i] > MaxCoordinate {
			return false
		}
	}
	return true
}

// PublicEncode packs a block coordinate into its public Identity. Each axis
// is biased into the unsigned range and packed into 21 bits, X lowest.
// PublicEncode panics if the coordinate is outside the representable space;
// callers obtain coordinates from the host engine, which never produces
// positions anywhere near the bound.
func PublicEncode(c BlockPos) Identity {
	if !Representable(c) {
		panic(fmt.Sprintf("grid: block coordinate %v outside representable space", c))
	}
	x := uint64(c[0]+axisBias) & axisMask
	y := uint64(c[1]+axisBias) & axisMask
	z := uint64(c[2]+axisBias) & axisMask
	return Identity(x | y<<axisBits | z<<(2*axisBits))
}

// PublicDecode is the exact inverse of PublicEncode.
func PublicDecode(id Identity) BlockPos {
	v := uint64(id)
	return BlockPos{
		int(v&axisMask) - axisBias,
		int(v>>axisBits&axisMask) - axisBias,
		int(v>>(2*axisBits)&axisMask) - axisBias,
	}
}

// InternalKey encodes a block coordinate into the internal storage identity
// used as a key in the persistent key-value store. The coordinate is written
// as "x_y_z" and then base64-encoded: the raw delimited string is not safe
// as a key for the underlying store, while the base64 alphabet is.
func InternalKey(c BlockPos) string {
	s := strconv.Itoa(c[0]) + "_" + strconv.Itoa(c[1]) + "_" + strconv.Itoa(c[2])
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// InternalDecode is the exact inverse of InternalKey. An error is returned
// if the key is not a well-formed internal identity.
func InternalDecode(key string) (BlockPos, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return BlockPos{}, fmt.Errorf("decode internal key: %w", err)
	}
	parts := strings.Split(string(raw), "_")
	if len(parts) != 3 {
		return BlockPos{}, fmt.Errorf("decode internal key: %q does not hold 3 coordinates", raw)
	}
	var c BlockPos
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return BlockPos{}, fmt.Errorf("decode internal key: axis %d: %w", i, err)
		}
		c[i] = v
	}
	return c, nil
}

// KeyOf converts a public Identity to the internal storage identity of the
// same block. Together with IdentityOf it forms an exact inversion pair.
func KeyOf(id Identity) string {
	return InternalKey(PublicDecode(id))
}

// IdentityOf converts an internal storage identity back to the public
// Identity of the same block.
func IdentityOf(key string) (Identity, error) {
	c, err := InternalDecode(key)
	if err != nil {
		return 0, err
	}
	return PublicEncode(c), nil
}
