package assetstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fty-metrics/composite/pkg/asset"
)

// snapshotAsset is one numbered item under the "assets" section. The
// numbered-item shape (rather than a plain array) mirrors the original
// zconfig-backed snapshot format, which has no native array type.
type snapshotAsset struct {
	Name      string            `json:"name"`
	Operation string            `json:"operation"`
	Kind      string            `json:"kind"`
	Subtype   string            `json:"subtype,omitempty"`
	Aux       map[string]string `json:"aux,omitempty"`
	Ext       map[string]string `json:"ext,omitempty"`
}

type snapshotIPC struct {
	Name string `json:"name"`
}

type snapshotDoc struct {
	Assets           map[string]snapshotAsset `json:"assets"`
	ProducedMetrics  map[string]string         `json:"produced_metrics"`
	IsReconfigNeeded bool                      `json:"is_reconfig_needed,omitempty"`
	IPCName          snapshotIPC               `json:"ipc_name"`
}

// Save atomically writes the store's assets and produced_metrics to path.
// assignments is not persisted — it is rebuilt by the next Reassign call
// after Load.
func (s *AssetStore) Save(path string) error {
	doc := snapshotDoc{
		Assets:          make(map[string]snapshotAsset, len(s.assets)),
		ProducedMetrics: make(map[string]string, len(s.producedMetrics)),
		IPCName:         snapshotIPC{Name: s.endpoint},
	}

	i := 1
	for _, rec := range s.assets {
		doc.Assets[strconv.Itoa(i)] = snapshotAsset{
			Name:      rec.Name,
			Operation: string(rec.Operation),
			Kind:      string(rec.Kind),
			Subtype:   rec.Subtype,
			Aux:       rec.Aux,
			Ext:       rec.Ext,
		}
		i++
	}

	j := 1
	for _, topic := range s.ProducedMetrics() {
		doc.ProducedMetrics[strconv.Itoa(j)] = topic
		j++
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reconstructs an AssetStore from a snapshot file. assignments is left
// empty; the caller must call Reassign before serving SensorsFor.
func Load(path string, portAliases map[string]string) (*AssetStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	s := New(portAliases)
	s.endpoint = doc.IPCName.Name
	s.reconfigPending = doc.IsReconfigNeeded

	for _, sa := range doc.Assets {
		s.assets[sa.Name] = &asset.Record{
			Name:      sa.Name,
			Operation: asset.Operation(sa.Operation),
			Kind:      asset.Kind(sa.Kind),
			Subtype:   sa.Subtype,
			Aux:       sa.Aux,
			Ext:       sa.Ext,
		}
	}

	topics := make([]string, 0, len(doc.ProducedMetrics))
	for _, t := range doc.ProducedMetrics {
		topics = append(topics, t)
	}
	s.SetProducedMetrics(topics)

	return s, nil
}

// ValidateStateFilePath checks that path is usable as a state-file target:
// creatable as a regular file, not a directory, not under a path that
// doesn't exist. Used by the configurator's STATE_FILE command handler.
func ValidateStateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("state file path is empty")
	}
	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("state file path %q is a directory", path)
		}
		return nil
	}
	dir := filepath.Dir(path)
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("state file directory %q does not exist: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("state file parent %q is not a directory", dir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("state file path %q is not writable: %w", path, err)
	}
	f.Close()
	return nil
}

// ValidateConfigDir checks that dir exists as a directory. Used by the
// configurator's CFG_DIRECTORY command handler.
func ValidateConfigDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("config directory %q does not exist: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("config path %q is not a directory", dir)
	}
	return nil
}
