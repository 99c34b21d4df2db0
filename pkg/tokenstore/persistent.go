package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/p-blackswan/agrostore/internal/store"
)

// Keys under which the pair lives in the state database.
const (
	KeyAccess  = "auth.access"
	KeyRefresh = "auth.refresh"
)

// PersistentStore keeps the pair in the SQLite state database so a login
// survives restarts.
type PersistentStore struct {
	db *store.Store
}

// NewPersistentStore wraps an opened state database.
func NewPersistentStore(db *store.Store) *PersistentStore {
	return &PersistentStore{db: db}
}

func (p *PersistentStore) Get(ctx context.Context) (TokenPair, error) {
	var pair TokenPair
	var err error
	if pair.Access, err = p.read(ctx, KeyAccess); err != nil {
		return TokenPair{}, err
	}
	if pair.Refresh, err = p.read(ctx, KeyRefresh); err != nil {
		return TokenPair{}, err
	}
	if pair.Empty() {
		return TokenPair{}, ErrNoTokens
	}
	return pair, nil
}

func (p *PersistentStore) Set(ctx context.Context, pair TokenPair) error {
	if err := p.db.SetMany(ctx, map[string]string{
		KeyAccess:  pair.Access,
		KeyRefresh: pair.Refresh,
	}); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	return nil
}

func (p *PersistentStore) Clear(ctx context.Context) error {
	if err := p.db.Delete(ctx, KeyAccess, KeyRefresh); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}

func (p *PersistentStore) read(ctx context.Context, key string) (string, error) {
	v, err := p.db.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading tokens: %w", err)
	}
	return v, nil
}
