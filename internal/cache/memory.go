package cache

import (
	"context"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process LRU with per-entry expiry. The LRU is internally
// locked.
type Memory struct {
	lru *expirable.LRU[string, models.CacheEntry]
}

// NewMemory creates a memory cache. size <= 0 selects 1024 entries and
// ttl <= 0 disables expiry.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Memory{lru: expirable.NewLRU[string, models.CacheEntry](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (models.ChatResponse, bool) {
	e, ok := m.lru.Get(key)
	observe(m.Name(), ok)
	if !ok {
		return models.ChatResponse{}, false
	}
	return e.Value, true
}

func (m *Memory) Set(_ context.Context, key string, value models.ChatResponse) {
	m.lru.Add(key, models.CacheEntry{Key: key, Value: value, WrittenAt: time.Now().UTC()})
}

// Len returns the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
