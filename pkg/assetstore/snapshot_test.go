package assetstore

import (
	"path/filepath"
	"testing"

	"github.com/fty-metrics/composite/pkg/asset"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(nil)
	s.SetEndpoint("ipc://@/malamute")
	s.Apply(rec("RACK1", asset.KindRack, "", map[string]string{"parent_name.1": "ROW1"}, nil))
	s.Apply(rec("S1", asset.KindDevice, asset.SubtypeSensor, nil,
		map[string]string{asset.ExtLogicalAsset: "RACK1", asset.ExtPort: "TH1"}))
	s.Reassign(true)
	s.SetProducedMetrics([]string{"temperature.rack@RACK1"})

	path := filepath.Join(t.TempDir(), "state.cfg")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Endpoint() != "ipc://@/malamute" {
		t.Errorf("endpoint not round-tripped, got %q", loaded.Endpoint())
	}
	if _, ok := loaded.Asset("RACK1"); !ok {
		t.Error("RACK1 missing after round trip")
	}
	if _, ok := loaded.Asset("S1"); !ok {
		t.Error("S1 missing after round trip")
	}
	got := loaded.ProducedMetrics()
	if len(got) != 1 || got[0] != "temperature.rack@RACK1" {
		t.Errorf("produced_metrics not round-tripped, got %v", got)
	}

	// assignments are not persisted: SensorsFor is empty until Reassign runs again.
	if sensors := loaded.SensorsFor("RACK1", nil); len(sensors) != 0 {
		t.Errorf("assignments should not survive a round trip before Reassign, got %v", sensors)
	}
	loaded.Reassign(true)
	if sensors := loaded.SensorsFor("RACK1", nil); len(sensors) != 1 {
		t.Errorf("expected assignments rebuilt after Reassign, got %v", sensors)
	}
}

func TestSave_OverwritesAtomically(t *testing.T) {
	s := New(nil)
	s.Apply(rec("DC1", asset.KindDatacenter, "", nil, nil))
	path := filepath.Join(t.TempDir(), "state.cfg")

	if err := s.Save(path); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	s.Apply(rec("DC2", asset.KindDatacenter, "", nil, nil))
	if err := s.Save(path); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := loaded.Asset("DC1"); !ok {
		t.Error("DC1 missing after second save")
	}
	if _, ok := loaded.Asset("DC2"); !ok {
		t.Error("DC2 missing after second save")
	}
}

func TestValidateStateFilePath(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateStateFilePath(filepath.Join(dir, "state.cfg")); err != nil {
		t.Errorf("expected a writable path under an existing directory to validate, got %v", err)
	}
	if err := ValidateStateFilePath(filepath.Join(dir, "nope", "state.cfg")); err == nil {
		t.Error("expected a path under a nonexistent directory to fail validation")
	}
	if err := ValidateStateFilePath(""); err == nil {
		t.Error("expected an empty path to fail validation")
	}
}

func TestValidateConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateConfigDir(dir); err != nil {
		t.Errorf("expected an existing directory to validate, got %v", err)
	}
	if err := ValidateConfigDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected a nonexistent directory to fail validation")
	}
}
