package rkv

import (
	"fmt"
	"path/filepath"

	"rkv/utils/config"
)

// KvsEngine interface for a key value storage engine.
//
// A server hands every connection its own Clone and shuts the clone down
// when the connection ends. Implementations need not be safe for
// concurrent writes; the server serializes them.
type KvsEngine interface {
	// Set Sets the value of a string key to a string.
	//
	// If the key already exists, the previous value will be overwritten.
	Set(key string, value string) error

	// Get Gets the string value of a given string key.
	//
	// found is false if the given key does not exist.
	Get(key string) (value string, found bool, err error)

	// Remove Removes a given key and reports whether it was present.
	Remove(key string) (bool, error)

	// Keys lists every key in no particular order.
	Keys() ([]string, error)

	// Clone returns a handle sharing the same data.
	Clone() KvsEngine

	// Shutdown releases this handle. The last handle to shut down
	// releases the underlying files.
	Shutdown() error
}

// OpenEngine opens the engine named kind. dir is ignored by the memory engine.
func OpenEngine(kind, dir string, compactionThreshold uint64) (KvsEngine, error) {
	switch kind {
	case config.EngineMemory:
		return NewMemoryStore(), nil
	case config.EngineLog:
		var opts []LogOption
		if compactionThreshold > 0 {
			opts = append(opts, WithCompactionThreshold(compactionThreshold))
		}
		return Open(dir, opts...)
	case config.EngineBolt:
		return OpenBolt(filepath.Join(dir, "rkv.db"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}
