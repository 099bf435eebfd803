package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/peeractor/ports/kv"
)

var ErrPerKeyTTL = errors.New("nats kv: per entry TTL is not supported, set KvConfig.TTL")

type KvConfig struct {
	Connect Connector
	Bucket  string
	// TTL expires every entry of the bucket; zero keeps entries forever.
	TTL      time.Duration
	MaxBytes int64
	Storage  jetstream.StorageType
	Log      *slog.Logger
}

// KvStore implements kv.Store on a JetStream key/value bucket.
type KvStore struct {
	log   *slog.Logger
	kv    jetstream.KeyValue
	close closeFunc
}

// kvRecord is what a bucket value holds; JetStream keeps no metadata per
// entry.
type kvRecord struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// NewKvStore opens, creating it if needed, the bucket cfg.Bucket.
func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 64 * 1024 * 1024
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  cfg.Storage,
		TTL:      cfg.TTL,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{
		log:   cfg.Log.With(slog.String("bucket", cfg.Bucket)),
		kv:    bucket,
		close: closeConn,
	}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if opts.TTL > 0 {
		return ErrPerKeyTTL
	}
	data, err := json.Marshal(kvRecord{Data: entry.Data, Meta: entry.Meta})
	if err != nil {
		return err
	}
	rev, err := k.kv.Put(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	k.log.Debug("put", slog.String("key", key), slog.Uint64("revision", rev))
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var rec kvRecord
	if err := json.Unmarshal(v.Value(), &rec); err != nil {
		return kv.Entry{}, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return kv.Entry{Data: rec.Data, Meta: rec.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Keys(ctx context.Context) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the NATS connection.
func (k *KvStore) Close() {
	if k.close != nil {
		k.close()
	}
}

var _ kv.Store = (*KvStore)(nil)
