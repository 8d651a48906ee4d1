// Package asset defines the asset record: the unit of topology change this
// system ingests, and the vocabulary of kinds and operations it supports.
package asset

import "fmt"

// Operation is the change this record represents.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationRetire Operation = "retire"
)

// Kind is the asset's physical or logical type.
type Kind string

const (
	KindDatacenter Kind = "datacenter"
	KindRoom       Kind = "room"
	KindRow        Kind = "row"
	KindRack       Kind = "rack"
	KindDevice     Kind = "device"
	KindGroup      Kind = "group"
)

// SubtypeSensor is the distinguished subtype value selecting sensor semantics.
const SubtypeSensor = "sensor"

// IsContainer reports whether k is one of the four hierarchy levels that
// sensors can be logically or physically attached to.
func (k Kind) IsContainer() bool {
	switch k {
	case KindDatacenter, KindRoom, KindRow, KindRack:
		return true
	}
	return false
}

// Sensor extended attribute keys (ext map).
const (
	ExtPort                = "port"
	ExtCalibrationOffsetT  = "calibration_offset_t"
	ExtCalibrationOffsetH  = "calibration_offset_h"
	ExtSensorFunction      = "sensor_function"
	ExtLogicalAsset        = "logical_asset"
)

// AuxParentPrefix is the key prefix for the container parent chain
// (parent_name.1 .. parent_name.k, leaf to root).
const AuxParentPrefix = "parent_name."

// MaxParentLevels is the deepest parent level this implementation resolves
// during propagation (parent_name.1..3).
const MaxParentLevels = 3

// ParentKey returns the aux map key for the n'th parent (1-indexed).
func ParentKey(n int) string {
	return fmt.Sprintf("%s%d", AuxParentPrefix, n)
}

// Record is a single asset: a container, device, sensor, or group.
// The aux map carries the container parent chain (parent_name.1..k);
// the ext map carries sensor-only attributes (port, calibration offsets,
// sensor_function, logical_asset). Both are populated only as relevant to
// the record's Kind/Subtype — an unset key is simply absent from the map.
type Record struct {
	Name      string
	Operation Operation
	Kind      Kind
	Subtype   string
	Aux       map[string]string
	Ext       map[string]string
}

// IsSensor reports whether this record uses sensor semantics.
func (r *Record) IsSensor() bool {
	return r.Subtype == SubtypeSensor
}

// Parent returns the n'th parent name (1-indexed) from the aux map, or ""
// if not present.
func (r *Record) Parent(n int) string {
	if r.Aux == nil {
		return ""
	}
	return r.Aux[ParentKey(n)]
}

// ExtAttr returns a sensor ext attribute, or "" if not present.
func (r *Record) ExtAttr(key string) string {
	if r.Ext == nil {
		return ""
	}
	return r.Ext[key]
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := &Record{
		Name:      r.Name,
		Operation: r.Operation,
		Kind:      r.Kind,
		Subtype:   r.Subtype,
	}
	if r.Aux != nil {
		c.Aux = make(map[string]string, len(r.Aux))
		for k, v := range r.Aux {
			c.Aux[k] = v
		}
	}
	if r.Ext != nil {
		c.Ext = make(map[string]string, len(r.Ext))
		for k, v := range r.Ext {
			c.Ext[k] = v
		}
	}
	return c
}

// sensorSignificantFields lists the ext keys whose change on an update
// marks the store's configuration stale.
var sensorSignificantFields = []string{
	ExtLogicalAsset,
	ExtPort,
	ExtCalibrationOffsetT,
	ExtCalibrationOffsetH,
	ExtSensorFunction,
}

// containerSignificantLevels lists the parent levels whose change on a
// container update marks the store's configuration stale.
var containerSignificantLevels = []int{1, 2, 3}

// SignificantChange reports whether updating from prev to r touches a
// field the event-to-reconfig policy treats as significant. prev may be
// nil, meaning the record was not previously known.
func (r *Record) SignificantChange(prev *Record) bool {
	if prev == nil {
		return true
	}
	if r.IsSensor() {
		for _, f := range sensorSignificantFields {
			if r.ExtAttr(f) != prev.ExtAttr(f) {
				return true
			}
		}
		return false
	}
	if r.Kind.IsContainer() {
		for _, n := range containerSignificantLevels {
			if r.Parent(n) != prev.Parent(n) {
				return true
			}
		}
		return false
	}
	return false
}

// MissingSensorFields returns which of port/logical_asset/parent_name.1 are
// absent from r's ext/aux maps, for the create-time warning log in §4.1.
func (r *Record) MissingSensorFields() []string {
	var missing []string
	if r.ExtAttr(ExtPort) == "" {
		missing = append(missing, ExtPort)
	}
	if r.ExtAttr(ExtLogicalAsset) == "" {
		missing = append(missing, ExtLogicalAsset)
	}
	if r.Parent(1) == "" {
		missing = append(missing, ParentKey(1))
	}
	return missing
}
