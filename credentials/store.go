// ABOUTME: Per-agent OAuth token storage backed by BadgerDB
// ABOUTME: Get/Set only; tokens are stored as JSON under "oauth:<agent>" keys
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
	"golang.org/x/oauth2"
)

// ErrNotLinked means the agent never linked an external calendar.
var ErrNotLinked = errors.New("no calendar credentials linked")

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory opens a throwaway store, used by tests and dry runs.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func tokenKey(agentID string) []byte {
	return []byte("oauth:" + agentID)
}

// Get returns ErrNotLinked when the agent has no token.
func (s *Store) Get(_ context.Context, agentID string) (*oauth2.Token, error) {
	var token oauth2.Token
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(agentID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &token)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return &token, nil
}

func (s *Store) Set(_ context.Context, agentID string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey(agentID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Agents lists every agent id with stored credentials.
func (s *Store) Agents() ([]string, error) {
	var agents []string
	prefix := []byte("oauth:")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			agents = append(agents, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}
