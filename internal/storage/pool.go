package storage

import (
	"errors"
	"fmt"
	"sync"
)

// Opener creates a Store for a named bucket.
type Opener func(bucket string) (Store, error)

// Pool caches one Store per bucket. Collections in a work unit may live in
// different buckets, and reopening a bucket per download is wasteful.
type Pool struct {
	open Opener

	mu     sync.Mutex
	stores map[string]Store
}

// NewPool creates a pool backed by open.
func NewPool(open Opener) *Pool {
	return &Pool{
		open:   open,
		stores: make(map[string]Store),
	}
}

// PoolFor returns a pool that opens buckets with cfg as a template.
// The bucket name replaces cfg.Bucket for object backends; for the local
// backend every bucket resolves to the same directory.
func PoolFor(cfg StorageConfig) *Pool {
	return NewPool(func(bucket string) (Store, error) {
		c := cfg
		if bucket != "" {
			c.Bucket = bucket
		}
		return NewStore(c)
	})
}

// Get returns the store for bucket, opening it on first use.
func (p *Pool) Get(bucket string) (Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[bucket]; ok {
		return s, nil
	}

	s, err := p.open(bucket)
	if err != nil {
		return nil, fmt.Errorf("open store for bucket %q: %w", bucket, err)
	}
	p.stores[bucket] = s
	return s, nil
}

// Close closes every opened store.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, s := range p.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %q: %w", name, err))
		}
		delete(p.stores, name)
	}
	return errors.Join(errs...)
}
