package storage

import (
	"context"
	"fmt"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendNATS   Backend = "nats"
	BackendMemory Backend = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend
	// Path is the root directory (file) or database file (sqlite).
	Path   string
	Format Format
	// NATSURL and Bucket configure the nats backend.
	NATSURL string
	Bucket  string
}

// Open returns the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFile(opts.Path, opts.Format)
	case BackendSQLite:
		return NewSQLite(opts.Path)
	case BackendNATS:
		return DialKV(ctx, opts.NATSURL, opts.Bucket)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
