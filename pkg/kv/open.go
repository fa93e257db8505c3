package kv

import (
	"context"
	"fmt"
)

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendNone   = "none"
)

// Options selects and configures a backend for [Open].
type Options struct {
	Backend string // one of the Backend* constants; empty means file
	Dir     string // file backend directory
	Redis   RedisConfig
	Mongo   MongoConfig
}

// Open creates the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("file store: directory is required")
		}
		return NewFile(opts.Dir)
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(ctx, opts.Redis)
	case BackendMongo:
		return NewMongo(ctx, opts.Mongo)
	case BackendNone:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (available: file, memory, redis, mongo, none)", opts.Backend)
	}
}
