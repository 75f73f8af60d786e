package store

import "context"

// Backend persists whole collections as opaque documents.
// Read returns ErrNotFound when the collection has never been written.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}
