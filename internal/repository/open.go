package repository

import (
	"context"
	"fmt"
	"log"
)

// Backends accepted by Open
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Options selects and configures a repository backend
type Options struct {
	Backend    string
	SQLitePath string
	DynamoDB   DynamoDBConfig
}

// Open creates the repository for the configured backend
func Open(ctx context.Context, opts Options) (ReadingRepository, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLiteReadingRepository(opts.SQLitePath)
	case BackendDynamoDB:
		return NewDynamoDBReadingRepository(ctx, opts.DynamoDB)
	case BackendMemory:
		log.Println("Warning: using in-memory store, readings are lost on exit")
		return NewMemoryReadingRepository(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
