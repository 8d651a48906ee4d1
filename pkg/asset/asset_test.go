package asset

import "testing"

func TestKindIsContainer(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindDatacenter, true},
		{KindRoom, true},
		{KindRow, true},
		{KindRack, true},
		{KindDevice, false},
		{KindGroup, false},
	}
	for _, tt := range tests {
		if got := tt.kind.IsContainer(); got != tt.want {
			t.Errorf("Kind(%q).IsContainer() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestParentKey(t *testing.T) {
	if got := ParentKey(1); got != "parent_name.1" {
		t.Errorf("ParentKey(1) = %q", got)
	}
	if got := ParentKey(3); got != "parent_name.3" {
		t.Errorf("ParentKey(3) = %q", got)
	}
}

func TestRecordParentAndExt(t *testing.T) {
	r := &Record{
		Name: "S1",
		Aux:  map[string]string{"parent_name.1": "R1", "parent_name.2": "D1"},
		Ext:  map[string]string{ExtPort: "TH1", ExtLogicalAsset: "R1"},
	}
	if r.Parent(1) != "R1" || r.Parent(2) != "D1" || r.Parent(3) != "" {
		t.Errorf("unexpected parent chain: %+v", r)
	}
	if r.ExtAttr(ExtPort) != "TH1" {
		t.Errorf("ExtAttr(port) = %q", r.ExtAttr(ExtPort))
	}
	if r.ExtAttr("missing") != "" {
		t.Errorf("ExtAttr(missing) should be empty")
	}
}

func TestRecordClone(t *testing.T) {
	r := &Record{
		Name: "S1",
		Aux:  map[string]string{"parent_name.1": "R1"},
		Ext:  map[string]string{ExtPort: "TH1"},
	}
	c := r.Clone()
	c.Aux["parent_name.1"] = "R2"
	c.Ext[ExtPort] = "TH2"
	if r.Aux["parent_name.1"] != "R1" {
		t.Error("Clone should not alias the aux map")
	}
	if r.Ext[ExtPort] != "TH1" {
		t.Error("Clone should not alias the ext map")
	}
}

func TestSignificantChange_Sensor(t *testing.T) {
	prev := &Record{
		Subtype: SubtypeSensor,
		Ext: map[string]string{
			ExtLogicalAsset:       "R1",
			ExtPort:               "TH1",
			ExtCalibrationOffsetT: "1",
			ExtCalibrationOffsetH: "0",
			ExtSensorFunction:     "",
		},
		Aux: map[string]string{"parent_name.1": "R1"},
	}
	same := prev.Clone()
	same.Aux["parent_name.1"] = "R2" // irrelevant to sensor significance
	if same.SignificantChange(prev) {
		t.Error("changing only parent_name should not be significant for a sensor")
	}

	changedPort := prev.Clone()
	changedPort.Ext[ExtPort] = "TH2"
	if !changedPort.SignificantChange(prev) {
		t.Error("changing port should be significant for a sensor")
	}

	if !prev.SignificantChange(nil) {
		t.Error("an unknown-previously record is always significant")
	}
}

func TestSignificantChange_Container(t *testing.T) {
	prev := &Record{
		Kind: KindRack,
		Aux:  map[string]string{"parent_name.1": "D1"},
	}
	same := prev.Clone()
	if same.SignificantChange(prev) {
		t.Error("identical container update should not be significant")
	}
	changed := prev.Clone()
	changed.Aux["parent_name.1"] = "D2"
	if !changed.SignificantChange(prev) {
		t.Error("changing parent_name.1 should be significant for a container")
	}
}

func TestMissingSensorFields(t *testing.T) {
	r := &Record{Subtype: SubtypeSensor}
	missing := r.MissingSensorFields()
	if len(missing) != 3 {
		t.Errorf("expected 3 missing fields, got %v", missing)
	}

	r2 := &Record{
		Subtype: SubtypeSensor,
		Ext:     map[string]string{ExtPort: "TH1", ExtLogicalAsset: "R1"},
		Aux:     map[string]string{"parent_name.1": "R1"},
	}
	if missing := r2.MissingSensorFields(); len(missing) != 0 {
		t.Errorf("expected no missing fields, got %v", missing)
	}
}
