// Package labeldb implements the persistent key-value store the shepherd
// saves block labels and counters to, backed by a LevelDB database. Values
// are stored as opaque strings under internal block identities; the package
// additionally stamps every database with a format version and a grid
// fingerprint so that a configuration change which would remap historical
// keys is refused on open.
package labeldb

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/df-mc/goleveldb/leveldb"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

// FormatVersion is the version of the database layout. It is stored inside
// the database on creation and checked on every subsequent open.
const FormatVersion = 1

const (
	versionKey     = "!shepherd:format_version"
	fingerprintKey = "!shepherd:grid_fingerprint"
)

// ErrGridMismatch is returned by Open when the database was written with a
// different grid configuration or format version. Continuing would silently
// corrupt historical keys, so the caller must either restore the old
// configuration or explicitly migrate the data; no automatic fix is
// attempted.
var ErrGridMismatch = errors.New("labeldb: database was created with a different grid configuration")

// Config holds options for opening a label database.
type Config struct {
	// Log is the Logger used for database messages. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
}

// DB is a LevelDB-backed store for labels and counters.
type DB struct {
	ldb *leveldb.DB
	log *slog.Logger
}

// Open opens or creates a label database in the directory passed. A fresh
// database is stamped with the current format version and grid fingerprint;
// an existing one is validated against them and ErrGridMismatch is returned
// on disagreement.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open label database: %w", err)
	}
	db := &DB{ldb: ldb, log: conf.Log}

	version, versionOK := db.GetInt(versionKey)
	fingerprint, fingerprintOK := db.GetInt(fingerprintKey)
	want := int64(grid.Fingerprint())
	switch {
	case !versionOK && !fingerprintOK:
		// Fresh database: stamp it.
		err := db.SetInt(versionKey, FormatVersion)
		if err == nil {
			err = db.SetInt(fingerprintKey, want)
		}
		if err != nil {
			_ = ldb.Close()
			return nil, fmt.Errorf("stamp label database: %w", err)
		}
	case version != FormatVersion:
		_ = ldb.Close()
		return nil, fmt.Errorf("%w: format version %d, expected %d", ErrGridMismatch, version, FormatVersion)
	case fingerprint != want:
		_ = ldb.Close()
		return nil, fmt.Errorf("%w: fingerprint %#x, expected %#x", ErrGridMismatch, uint64(fingerprint), uint64(want))
	}
	return db, nil
}

// GetString returns the value stored under a key and whether a value was
// present. Read failures other than a missing key are logged and reported
// as absent.
func (db *DB) GetString(key string) (string, bool) {
	v, err := db.ldb.Get([]byte(key), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			db.log.Error("labeldb: read failed", "key", key, "error", err)
		}
		return "", false
	}
	return string(v), true
}

// SetString stores a value under a key, overwriting any previous value.
func (db *DB) SetString(key, value string) error {
	if err := db.ldb.Put([]byte(key), []byte(value), nil); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under a key, if any.
func (db *DB) Delete(key string) error {
	if err := db.ldb.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// GetInt returns the integer stored under a key and whether a well-formed
// integer was present.
func (db *DB) GetInt(key string) (int64, bool) {
	s, ok := db.GetString(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		db.log.Error("labeldb: malformed integer value", "key", key, "value", s)
		return 0, false
	}
	return v, true
}

// SetInt stores an integer under a key.
func (db *DB) SetInt(key string, v int64) error {
	return db.SetString(key, strconv.FormatInt(v, 10))
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.ldb.Close()
}
