package grid

import (
	"encoding/base64"
	"testing"
)

func base64Of(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

var roundTripCoordinates = []BlockPos{
	{0, 0, 0},
	{1, 2, 3},
	{-1, -2, -3},
	{1023, -1023, 512},
	{MinCoordinate, MinCoordinate, MinCoordinate},
	{MaxCoordinate, MaxCoordinate, MaxCoordinate},
	{MinCoordinate, MaxCoordinate, 0},
}

func TestPublicIdentityRoundTrip(t *testing.T) {
	seen := make(map[Identity]BlockPos)
	for _, c := range roundTripCoordinates {
		id := PublicEncode(c)
		if got := PublicDecode(id); got != c {
			t.Fatalf("PublicDecode(PublicEncode(%v)) = %v", c, got)
		}
		if prev, ok := seen[id]; ok {
			t.Fatalf("identity collision between %v and %v", prev, c)
		}
		seen[id] = c
	}
}

func TestPublicEncodePanicsOutsideRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for out-of-range coordinate")
		}
	}()
	PublicEncode(BlockPos{MaxCoordinate + 1, 0, 0})
}

func TestInternalIdentityRoundTrip(t *testing.T) {
	for _, c := range roundTripCoordinates {
		key := InternalKey(c)
		got, err := InternalDecode(key)
		if err != nil {
			t.Fatalf("InternalDecode(%q): %v", key, err)
		}
		if got != c {
			t.Fatalf("InternalDecode(InternalKey(%v)) = %v", c, got)
		}
	}
}

func TestInternalDecodeRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{
		"not base64!",
		base64Of("1_2"),
		base64Of("1_2_3_4"),
		base64Of("a_b_c"),
		base64Of(""),
	} {
		if _, err := InternalDecode(key); err == nil {
			t.Fatalf("expected error decoding %q", key)
		}
	}
}

func TestIdentityConversionPair(t *testing.T) {
	for _, c := range roundTripCoordinates {
		id := PublicEncode(c)
		back, err := IdentityOf(KeyOf(id))
		if err != nil {
			t.Fatalf("IdentityOf(KeyOf(%v)): %v", id, err)
		}
		if back != id {
			t.Fatalf("IdentityOf(KeyOf(%v)) = %v", id, back)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	if Fingerprint() != Fingerprint() {
		t.Fatalf("fingerprint must be deterministic")
	}
	if Fingerprint() == 0 {
		t.Fatalf("fingerprint must not be zero")
	}
}
