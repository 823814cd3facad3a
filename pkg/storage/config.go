package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured returns the Database named by --storage-provider. The provider is
// opened once flags are parsed.
func Configured() Database {
	name := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")
	fs := configuredFirestore()

	var db struct{ Database }
	lflag.Do(func() {
		opened, err := open(context.Background(), *name, fs)
		if err != nil {
			panic(err.Error())
		}
		db.Database = opened
	})
	return &db
}

func open(ctx context.Context, name string, fs *FirestoreProvider) (Database, error) {
	switch name {
	case "memory":
		return NewMemoryProvider(), nil
	case "firestore":
		if err := fs.Validate(); err != nil {
			return nil, fmt.Errorf("firestore validation failed: %w", err)
		}
		if err := fs.Init(ctx); err != nil {
			return nil, fmt.Errorf("firestore init failed: %w", err)
		}
		return fs, nil
	}
	return nil, fmt.Errorf("unknown storage provider: %s", name)
}
