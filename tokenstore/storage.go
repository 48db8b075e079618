// Package tokenstore keeps the console's bearer token in durable client
// storage under a single key.
package tokenstore

import (
	"context"
	"errors"
	"sync"
)

const DefaultKey = "token"

var ErrNotFound = errors.New("tokenstore: token not found")

type Storage interface {
	// Load returns the stored token or ErrNotFound.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	// Clear erases the stored token. Clearing an empty storage is not an error.
	Clear(ctx context.Context) error
}

var _ Storage = (*Memory)(nil)

type Memory struct {
	mu    sync.RWMutex
	token string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == "" {
		return "", ErrNotFound
	}
	return m.token, nil
}

func (m *Memory) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = token
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = ""
	return nil
}
