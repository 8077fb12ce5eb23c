package store

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOptions configures the etcd connection.
type EtcdOptions struct {
	// Endpoints lists the etcd cluster endpoints (e.g., "localhost:2379").
	Endpoints []string

	// DialTimeout is the maximum time to wait for connection establishment.
	// Defaults to 5s.
	DialTimeout time.Duration

	// RequestTimeout bounds individual store operations when the caller's
	// context carries no deadline. Defaults to 5s.
	RequestTimeout time.Duration
}

// EtcdKV implements KeyValueStore using etcd leases. Each SetWithTTL
// grants a fresh lease for the requested TTL and attaches the key to it,
// so expiry is enforced server-side just like a Redis TTL. It is a
// drop-in alternative warm tier for deployments that already run etcd.
type EtcdKV struct {
	client  *clientv3.Client
	timeout time.Duration
}

// NewEtcdKV creates an etcd-backed KeyValueStore and verifies
// connectivity with a status probe against the first endpoint.
func NewEtcdKV(opts EtcdOptions) (*EtcdKV, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if _, err := client.Status(ctx, opts.Endpoints[0]); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdKV{client: client, timeout: opts.RequestTimeout}, nil
}

// Get retrieves the value stored under key.
func (s *EtcdKV) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrStorageFailed, key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

// SetWithTTL stores value under key. A positive ttl attaches the key to
// a fresh lease; etcd rounds lease TTLs down to whole seconds, with a
// minimum of one second.
func (s *EtcdKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var opts []clientv3.OpOption
	if ttl > 0 {
		seconds := int64(ttl / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		lease, err := s.client.Grant(ctx, seconds)
		if err != nil {
			return fmt.Errorf("%w: lease grant for %s: %v", ErrStorageFailed, key, err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := s.client.Put(ctx, key, value, opts...); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorageFailed, key, err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *EtcdKV) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageFailed, key, err)
	}
	if resp.Deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether key currently holds a value.
func (s *EtcdKV) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("%w: count %s: %v", ErrStorageFailed, key, err)
	}
	return resp.Count > 0, nil
}

// Close closes the etcd connection.
func (s *EtcdKV) Close() error {
	return s.client.Close()
}

func (s *EtcdKV) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
