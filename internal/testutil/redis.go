//go:build integration || e2e

package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
)

// assetKey builds the "asset|<name>" hash key used by pkg/assetstore's Redis mirror.
func assetKey(name string) string {
	return "asset|" + name
}

// WriteAssetEntry writes a single asset's fields to the test Redis instance,
// mirroring the hash layout pkg/assetstore/redis.go produces.
func WriteAssetEntry(t *testing.T, addr, name string, fields map[string]string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if len(args) == 0 {
		args = append(args, "_exists", "1")
	}
	if err := client.HSet(context.Background(), assetKey(name), args...).Err(); err != nil {
		t.Fatalf("writing %s: %v", assetKey(name), err)
	}
}

// DeleteAssetEntry removes an asset's mirrored hash from the test Redis instance.
func DeleteAssetEntry(t *testing.T, addr, name string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Del(context.Background(), assetKey(name)).Err(); err != nil {
		t.Fatalf("deleting %s: %v", assetKey(name), err)
	}
}

// ReadAssetEntry reads an asset's mirrored hash from the test Redis instance.
func ReadAssetEntry(t *testing.T, addr, name string) map[string]string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	vals, err := client.HGetAll(context.Background(), assetKey(name)).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", assetKey(name), err)
	}
	return vals
}

// AssetEntryExists checks whether an asset's mirrored hash exists.
func AssetEntryExists(t *testing.T, addr, name string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	n, err := client.Exists(context.Background(), assetKey(name)).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", assetKey(name), err)
	}
	return n > 0
}
