package memworld

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// snapshotKey is the key the serialised world is stored under. It shares
// the key-value store with the label data but lives outside the internal
// identity key space.
const snapshotKey = "!memworld:snapshot"

const snapshotVersion = 1

// Save serialises the whole world (clock, node name table and every
// materialised block) into a zstd-compressed snapshot and stores it in the
// key-value store passed.
func (w *World) Save(kv labels.KV) error {
	w.mu.Lock()
	raw := w.encode()
	w.mu.Unlock()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	_ = enc.Close()
	return kv.SetString(snapshotKey, string(compressed))
}

// Load restores a world previously stored with Save. It returns false if
// no snapshot is present; a corrupt snapshot is an error, not silent data
// loss.
func Load(kv labels.KV) (*World, bool, error) {
	raw, ok := kv.GetString(snapshotKey)
	if !ok {
		return nil, false, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false, fmt.Errorf("create decompressor: %w", err)
	}
	defer dec.Close()
	data, err := dec.DecodeAll([]byte(raw), nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress snapshot: %w", err)
	}
	w, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

func (w *World) encode() []byte {
	buf := make([]byte, 1, 64+len(w.blocks)*grid.Volume*6)
	buf[0] = snapshotVersion
	buf = binary.AppendVarint(buf, w.time)

	buf = binary.AppendUvarint(buf, uint64(len(w.idNames)))
	for _, name := range w.idNames {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
	}

	buf = binary.AppendUvarint(buf, uint64(len(w.blocks)))
	for _, c := range w.allBlocks() {
		b := w.blocks[c]
		for i := 0; i < 3; i++ {
			buf = binary.AppendVarint(buf, int64(c[i]))
		}
		if b.loaded {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		for _, n := range b.nodes {
			buf = binary.AppendUvarint(buf, uint64(n))
		}
		buf = append(buf, b.light...)
		buf = append(buf, b.secondary...)
	}
	return buf
}

// allBlocks returns every materialised block coordinate in a deterministic
// order, loaded or not.
func (w *World) allBlocks() []grid.BlockPos {
	all := make([]grid.BlockPos, 0, len(w.blocks))
	for c := range w.blocks {
		all = append(all, c)
	}
	sortBlockPos(all)
	return all
}

func decode(data []byte) (*World, error) {
	if len(data) == 0 || data[0] != snapshotVersion {
		return nil, fmt.Errorf("unknown snapshot version")
	}
	r := &reader{data: data[1:]}
	w := &World{
		blocks:     make(map[grid.BlockPos]*blockData),
		names:      make(map[string]shepherd.NodeID),
		postWrites: make(map[grid.BlockPos]int),
	}
	w.time = r.varint()

	names := r.uvarint()
	for i := uint64(0); i < names && !r.failed; i++ {
		name := r.str()
		w.names[name] = shepherd.NodeID(len(w.idNames))
		w.idNames = append(w.idNames, name)
	}

	count := r.uvarint()
	for i := uint64(0); i < count && !r.failed; i++ {
		var c grid.BlockPos
		for axis := 0; axis < 3; axis++ {
			c[axis] = int(r.varint())
		}
		b := newBlockData()
		b.loaded = r.byte() == 1
		for j := range b.nodes {
			b.nodes[j] = shepherd.NodeID(r.uvarint())
		}
		r.bytes(b.light)
		r.bytes(b.secondary)
		w.blocks[c] = b
	}
	if r.failed {
		return nil, fmt.Errorf("truncated snapshot")
	}
	return w, nil
}

// reader is a cursor over the raw snapshot bytes that records truncation
// instead of panicking, so decode can report a single error at the end.
type reader struct {
	data   []byte
	failed bool
}

func (r *reader) varint() int64 {
	v, n := binary.Varint(r.data)
	if n <= 0 {
		r.failed = true
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) uvarint() uint64 {
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		r.failed = true
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) byte() byte {
	if len(r.data) < 1 {
		r.failed = true
		return 0
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b
}

func (r *reader) bytes(dst []byte) {
	if len(r.data) < len(dst) {
		r.failed = true
		return
	}
	copy(dst, r.data[:len(dst)])
	r.data = r.data[len(dst):]
}

func (r *reader) str() string {
	n := r.uvarint()
	if uint64(len(r.data)) < n {
		r.failed = true
		return ""
	}
	s := string(r.data[:n])
	r.data = r.data[n:]
	return s
}
