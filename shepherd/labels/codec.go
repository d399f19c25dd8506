package labels

import "encoding/binary"

// codecVersion is the first byte of every encoded label list. Decoders
// refuse versions they do not know, which degrades to an empty list rather
// than misreading the payload.
const codecVersion = 1

// encodeLabels serialises a label list into the self-describing binary form
// stored in the key-value store: a version byte, a uvarint label count and,
// per label, a uvarint tag length, the tag bytes and a uvarint timestamp.
func encodeLabels(all []Label) []byte {
	buf := make([]byte, 1, 1+len(all)*12)
	buf[0] = codecVersion
	buf = binary.AppendUvarint(buf, uint64(len(all)))
	for _, l := range all {
		buf = binary.AppendUvarint(buf, uint64(len(l.Tag)))
		buf = append(buf, l.Tag...)
		buf = binary.AppendUvarint(buf, uint64(l.Timestamp))
	}
	return buf
}

// decodeLabels parses an encoded label list. Any malformation, including an
// unknown version, a truncated payload or trailing garbage, yields nil: a
// corrupt stored value degrades to an empty label set instead of failing
// the load.
func decodeLabels(buf []byte) []Label {
	if len(buf) == 0 || buf[0] != codecVersion {
		return nil
	}
	buf = buf[1:]
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil
	}
	buf = buf[n:]

	// The stored count may be garbage; don't trust it for preallocation.
	all := make([]Label, 0, min(count, 64))
	for i := uint64(0); i < count; i++ {
		tagLen, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf)-n) < tagLen {
			return nil
		}
		buf = buf[n:]
		tag := string(buf[:tagLen])
		buf = buf[tagLen:]

		ts, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil
		}
		buf = buf[n:]
		all = append(all, Label{Tag: tag, Timestamp: int64(ts)})
	}
	if len(buf) != 0 {
		return nil
	}
	return all
}
