package assetstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/fty-metrics/composite/pkg/asset"
	"github.com/fty-metrics/composite/pkg/util"
)

// RedisMirror optionally mirrors the store's assets into Redis hashes
// ("asset|<name>"). It exists purely as a crash-friendly warm-restart aid
// alongside the flat snapshot file — Redis is never the system of record.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror connects a mirror to addr. Connectivity is not verified
// until the first MirrorAsset/UnmirrorAsset call.
func NewRedisMirror(addr string) *RedisMirror {
	return &RedisMirror{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func assetKey(name string) string {
	return "asset|" + name
}

// MirrorAsset writes rec's aux/ext fields as a Redis hash. A delete
// operation should go through UnmirrorAsset instead.
func (m *RedisMirror) MirrorAsset(ctx context.Context, rec *asset.Record) error {
	fields := map[string]interface{}{
		"operation": string(rec.Operation),
		"kind":      string(rec.Kind),
		"subtype":   rec.Subtype,
	}
	for k, v := range rec.Aux {
		fields["aux."+k] = v
	}
	for k, v := range rec.Ext {
		fields["ext."+k] = v
	}
	if err := m.client.HSet(ctx, assetKey(rec.Name), fields).Err(); err != nil {
		return fmt.Errorf("mirroring asset %q to redis: %w", rec.Name, err)
	}
	return nil
}

// UnmirrorAsset removes an asset's mirrored hash.
func (m *RedisMirror) UnmirrorAsset(ctx context.Context, name string) error {
	if err := m.client.Del(ctx, assetKey(name)).Err(); err != nil {
		return fmt.Errorf("removing mirrored asset %q from redis: %w", name, err)
	}
	return nil
}

// MirrorAll writes every asset in s to the mirror via MirrorAsset. Hashes of
// assets not in s, and hash fields an asset no longer carries, are left as
// they are.
func (m *RedisMirror) MirrorAll(ctx context.Context, s *AssetStore) error {
	for _, name := range s.Names() {
		rec, ok := s.Asset(name)
		if !ok {
			continue
		}
		if err := m.MirrorAsset(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// ApplyAndMirror calls s.Apply and, if it reports a change, mirrors the
// effect to Redis. Mirror errors are logged, not propagated — a mirror
// failure must never block the asset store itself.
func (m *RedisMirror) ApplyAndMirror(ctx context.Context, s *AssetStore, rec *asset.Record) bool {
	changed := s.Apply(rec)
	if !changed {
		return changed
	}
	var err error
	switch rec.Operation {
	case asset.OperationDelete, asset.OperationRetire:
		err = m.UnmirrorAsset(ctx, rec.Name)
	default:
		err = m.MirrorAsset(ctx, rec)
	}
	if err != nil {
		util.WithAsset(rec.Name).Warnf("redis mirror update failed: %v", err)
	}
	return changed
}
