// Package store builds the Redis client shared by the cache tier, rate
// limiter, and hot-key tracker, and exposes the thin health-check surface
// both the cache tier's startup warning and /healthz need.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls how the backing Redis connection(s) are built.
type Config struct {
	// Addrs is one or more "host:port" addresses. When more than one is
	// given, keys are sharded across them via a consistent-hash ring
	// (see pkg/utils.HashRing) instead of talking to a single instance.
	Addrs    []string
	Password string
	DB       int
}

// NewClients builds one *redis.Client per configured address.
func NewClients(cfg Config) (map[string]*redis.Client, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("store: at least one address is required")
	}
	clients := make(map[string]*redis.Client, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		clients[addr] = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
	}
	return clients, nil
}

// ParseAddrs splits a comma-separated address list, e.g. from an
// environment variable, trimming blanks.
func ParseAddrs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Health reports basic reachability and the configured eviction policy of
// a single Redis instance.
type Health struct {
	Reachable   bool
	LatencyMS   int64
	EvictionPolicy string
	Warning     string
}

// Ping measures round-trip latency and, best-effort, reads the configured
// maxmemory-policy so the caller can warn when it is "noeviction", which
// would mean the store never evicts under memory pressure.
func Ping(ctx context.Context, client *redis.Client) Health {
	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return Health{Reachable: false}
	}
	h := Health{Reachable: true, LatencyMS: time.Since(start).Milliseconds()}

	res, err := client.ConfigGet(ctx, "maxmemory-policy").Result()
	if err == nil {
		if policy, ok := res["maxmemory-policy"]; ok {
			h.EvictionPolicy = policy
			if policy == "noeviction" {
				h.Warning = "redis maxmemory-policy is noeviction; the store will not evict under memory pressure"
			}
		}
	}
	return h
}
