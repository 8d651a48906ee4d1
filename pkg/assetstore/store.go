// Package assetstore implements the AssetStore: the authoritative map of
// asset name to asset record, the derived sensor-assignment index, and the
// change-detection policy that decides when the on-disk configuration must
// be regenerated.
package assetstore

import (
	"sort"
	"strings"

	"github.com/fty-metrics/composite/pkg/asset"
	"github.com/fty-metrics/composite/pkg/util"
)

// AssetStore holds the asset model for one configurator instance. It is not
// safe for concurrent use — the configurator is a single cooperative actor
// and no locking is required.
type AssetStore struct {
	assets          map[string]*asset.Record
	assignments     map[string][]*asset.Record
	reconfigPending bool
	producedMetrics map[string]struct{}
	portAliases     map[string]string
	endpoint        string
}

// New creates an empty AssetStore. portAliases maps a symbolic device path
// (e.g. "/dev/ttySTH1") to the host's resolved device path, resolved once at
// daemon startup.
func New(portAliases map[string]string) *AssetStore {
	if portAliases == nil {
		portAliases = map[string]string{}
	}
	return &AssetStore{
		assets:          make(map[string]*asset.Record),
		assignments:     make(map[string][]*asset.Record),
		producedMetrics: make(map[string]struct{}),
		portAliases:     portAliases,
	}
}

// Apply updates assets per the event-to-reconfig policy and reports whether
// the event modified the store.
func (s *AssetStore) Apply(rec *asset.Record) bool {
	switch rec.Operation {
	case asset.OperationCreate:
		return s.applyCreate(rec)
	case asset.OperationUpdate:
		return s.applyUpdate(rec)
	case asset.OperationDelete, asset.OperationRetire:
		return s.applyRemove(rec)
	default:
		util.WithAsset(rec.Name).Warnf("unknown operation %q, ignoring event", rec.Operation)
		return false
	}
}

func (s *AssetStore) applyCreate(rec *asset.Record) bool {
	switch {
	case rec.Kind.IsContainer():
		s.reconfigPending = true
	case rec.IsSensor():
		for _, field := range rec.MissingSensorFields() {
			util.WithAsset(rec.Name).Warnf("sensor missing attribute %q", field)
		}
		s.reconfigPending = true
	}
	s.assets[rec.Name] = rec.Clone()
	return true
}

func (s *AssetStore) applyUpdate(rec *asset.Record) bool {
	prev := s.assets[rec.Name]
	if rec.Kind.IsContainer() || rec.IsSensor() {
		if rec.SignificantChange(prev) {
			s.reconfigPending = true
		}
	}
	s.assets[rec.Name] = rec.Clone()
	return true
}

func (s *AssetStore) applyRemove(rec *asset.Record) bool {
	_, existed := s.assets[rec.Name]
	if existed {
		s.reconfigPending = true
		delete(s.assets, rec.Name)
	}
	return existed
}

// Reassign rebuilds the assignments index from scratch. It clears
// reconfig_pending at entry and may re-set it while iterating if the store
// is found to be inconsistent (a sensor's logical_asset does not yet
// exist) — the end state is pending iff still inconsistent.
func (s *AssetStore) Reassign(propagate bool) {
	s.assignments = make(map[string][]*asset.Record)
	s.reconfigPending = false

	names := make([]string, 0, len(s.assets))
	for name := range s.assets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rec := s.assets[name]
		if !rec.IsSensor() {
			continue
		}
		logical := rec.ExtAttr(asset.ExtLogicalAsset)
		if logical == "" {
			util.WithAsset(rec.Name).Warn("sensor has no logical_asset, skipping")
			continue
		}
		container, ok := s.assets[logical]
		if !ok {
			// Inconsistent: the sensor references a container we haven't
			// seen yet. Retry at the next idle tick.
			s.reconfigPending = true
			continue
		}
		if container.Kind == asset.KindDevice || container.Kind == asset.KindGroup {
			util.WithAsset(rec.Name).Errorf("logical_asset %q has disallowed kind %q", logical, container.Kind)
			continue
		}
		if propagate && container.Kind != asset.KindRack {
			// Propagation is defined only for rack-anchored sensors.
			continue
		}

		assigned := rec.Clone()
		if assigned.Ext == nil {
			assigned.Ext = map[string]string{}
		}
		assigned.Ext[asset.ExtPort] = normalizePort(assigned.ExtAttr(asset.ExtPort), s.portAliases)

		s.assignments[logical] = append(s.assignments[logical], assigned)
		if propagate {
			for n := 1; n <= asset.MaxParentLevels; n++ {
				parent := container.Parent(n)
				if parent == "" {
					continue
				}
				s.assignments[parent] = append(s.assignments[parent], assigned)
			}
		}
	}
}

// normalizePort resolves a "TH1".."TH4" symbolic port through aliases,
// failing open (logging and returning the original string unchanged) when
// the alias table has no entry — the resolution is host-specific and must
// not block assignment.
func normalizePort(port string, aliases map[string]string) string {
	if len(port) != 3 || !strings.HasPrefix(port, "TH") {
		return port
	}
	if d := port[2]; d < '1' || d > '4' {
		return port
	}
	key := "/dev/ttyS" + port
	if resolved, ok := aliases[key]; ok {
		return resolved
	}
	util.Warnf("no port alias for %q, leaving port %q unchanged", key, port)
	return port
}

// SensorsFor returns the sensors assigned to container, optionally filtered
// by sensor_function. A nil filter returns all assigned sensors; a filter
// pointing at "" matches sensors with no sensor_function set.
func (s *AssetStore) SensorsFor(container string, functionFilter *string) []*asset.Record {
	sensors := s.assignments[container]
	if functionFilter == nil {
		out := make([]*asset.Record, len(sensors))
		copy(out, sensors)
		return out
	}
	out := make([]*asset.Record, 0, len(sensors))
	for _, sn := range sensors {
		if sn.ExtAttr(asset.ExtSensorFunction) == *functionFilter {
			out = append(out, sn)
		}
	}
	return out
}

// Asset returns the record for name, if known.
func (s *AssetStore) Asset(name string) (*asset.Record, bool) {
	rec, ok := s.assets[name]
	return rec, ok
}

// Names returns all known asset names, in unspecified order.
func (s *AssetStore) Names() []string {
	names := make([]string, 0, len(s.assets))
	for n := range s.assets {
		names = append(names, n)
	}
	return names
}

// ReconfigPending reports whether the store believes its configuration may
// no longer reflect the asset model.
func (s *AssetStore) ReconfigPending() bool {
	return s.reconfigPending
}

// ProducedMetrics returns the topics produced by the last successful
// regeneration, sorted for deterministic comparison in callers/tests.
func (s *AssetStore) ProducedMetrics() []string {
	out := make([]string, 0, len(s.producedMetrics))
	for m := range s.producedMetrics {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// SetProducedMetrics replaces the produced-metrics set. Called as the last
// step of a successful regeneration.
func (s *AssetStore) SetProducedMetrics(topics []string) {
	s.producedMetrics = make(map[string]struct{}, len(topics))
	for _, t := range topics {
		s.producedMetrics[t] = struct{}{}
	}
}

// Endpoint returns the bus endpoint recorded at the last Save/Load
// (the snapshot's ipc_name/name leaf — informational only).
func (s *AssetStore) Endpoint() string {
	return s.endpoint
}

// SetEndpoint records the bus endpoint for the next Save.
func (s *AssetStore) SetEndpoint(endpoint string) {
	s.endpoint = endpoint
}
