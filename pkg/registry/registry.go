// Package registry persists metadata about parsed projects. The CPGs
// themselves live in the engine's own workspace; the registry only
// remembers what was imported, when, and how often it is queried, so
// the server can answer list calls without round-tripping to the
// engine.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "project/"

// ErrNotFound is returned when a project record does not exist.
var ErrNotFound = errors.New("project not found")

// Project is one persisted project record.
type Project struct {
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path"`
	Language   string    `json:"language,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
	Queries    uint64    `json:"queries"`
}

// Registry is a badger-backed project store.
type Registry struct {
	db *badger.DB
}

// Options configure the registry store.
type Options struct {
	Dir      string
	InMemory bool // for tests
}

// Open opens or creates the registry database.
func Open(opts Options) (*Registry, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

// Put stores or replaces a project record.
func (r *Registry) Put(p *Project) error {
	if p.Name == "" {
		return errors.New("project name required")
	}
	if p.ImportedAt.IsZero() {
		p.ImportedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(p.Name), raw)
	})
}

// Get fetches one project record.
func (r *Registry) Get(name string) (*Project, error) {
	var p Project
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns every project record.
func (r *Registry) List() ([]*Project, error) {
	var out []*Project
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p Project
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a project record. Deleting a missing record is not an
// error; the engine-side delete may already have happened.
func (r *Registry) Delete(name string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
}

// IncQueries bumps a project's query counter. Missing records are
// ignored so counting never blocks query execution.
func (r *Registry) IncQueries(name string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var p Project
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		}); err != nil {
			return err
		}
		p.Queries++
		raw, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		return txn.Set(key(name), raw)
	})
}
