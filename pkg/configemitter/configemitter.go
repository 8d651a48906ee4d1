// Package configemitter renders composite-metric definitions to on-disk
// configuration files and derives the service instance name and output
// topic for each.
package configemitter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fty-metrics/composite/pkg/asset"
	"github.com/fty-metrics/composite/pkg/eval"
	"github.com/fty-metrics/composite/pkg/util"
)

// Quantity is one of the two aggregated measurements a definition computes.
type Quantity string

const (
	QuantityTemperature Quantity = "temperature"
	QuantityHumidity    Quantity = "humidity"
)

func (q Quantity) unit() string {
	if q == QuantityHumidity {
		return "%"
	}
	return "C"
}

func (q Quantity) calibrationField() string {
	if q == QuantityHumidity {
		return asset.ExtCalibrationOffsetH
	}
	return asset.ExtCalibrationOffsetT
}

// AssetQuerier is the subset of AssetStore ConfigEmitter depends on.
type AssetQuerier interface {
	SensorsFor(container string, functionFilter *string) []*asset.Record
}

// Definition is one rendered composite-metric config: a file on disk, the
// service instance name that should serve it, and its output topic.
type Definition struct {
	FilePath    string
	ServiceName string
	OutputTopic string
}

// cfgDocument is the JSON shape written to disk: "in" (input topic
// literals) and "evaluation" (expression source).
type cfgDocument struct {
	In         []string `json:"in"`
	Evaluation string   `json:"evaluation"`
}

// Emit renders definitions for container (optionally scoped to function,
// e.g. "input"/"output" for racks; nil for every other container type).
// When at least one sensor is assigned (after the function filter), it
// writes one .cfg file for each quantity, temperature and humidity; with no
// assigned sensor it writes nothing.
// Returns the successfully emitted definitions; a write failure for one
// quantity is logged and skipped rather than aborting the other.
func Emit(dir, container string, function *string, store AssetQuerier) ([]Definition, error) {
	sensors := store.SensorsFor(container, function)
	if len(sensors) == 0 {
		return nil, nil
	}

	var defs []Definition
	for _, q := range []Quantity{QuantityTemperature, QuantityHumidity} {
		def, ok := emitOne(dir, container, function, q, sensors)
		if ok {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func emitOne(dir, container string, function *string, q Quantity, sensors []*asset.Record) (Definition, bool) {
	inputs := make([]string, 0, len(sensors))
	for _, sn := range sensors {
		port := sn.ExtAttr(asset.ExtPort)
		if port == "" {
			port = "(unknown)"
		}
		parent := sn.Parent(1)
		if parent == "" {
			parent = "(unknown)"
		}
		inputs = append(inputs, fmt.Sprintf("%s.%s@%s", q, port, parent))
	}

	offset := meanCalibrationOffset(sensors, q)

	funcSuffix := ""
	if function != nil && *function != "" {
		funcSuffix = "-" + *function
	}
	outputTopic := fmt.Sprintf("average.%s%s@%s", q, funcSuffix, container)

	doc := cfgDocument{
		In:         inputs,
		Evaluation: eval.MeanWithOffset(outputTopic, inputs, offset, q.unit()),
	}

	fileName := fmt.Sprintf("%s%s-%s.cfg", container, funcSuffix, q)
	filePath := filepath.Join(dir, fileName)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		util.WithContainer(container).Errorf("marshaling config for %s: %v", fileName, err)
		return Definition{}, false
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		util.WithContainer(container).Errorf("writing config file %s: %v", filePath, err)
		return Definition{}, false
	}

	serviceName := fmt.Sprintf("composite-metrics@%s%s-%s", container, funcSuffix, q)

	return Definition{FilePath: filePath, ServiceName: serviceName, OutputTopic: outputTopic}, true
}

// meanCalibrationOffset computes the arithmetic mean of q's calibration
// offset field across sensors. A non-numeric value parses as 0 and is
// logged by sensor name.
func meanCalibrationOffset(sensors []*asset.Record, q Quantity) float64 {
	if len(sensors) == 0 {
		return 0
	}
	field := q.calibrationField()
	var sum float64
	for _, sn := range sensors {
		raw := sn.ExtAttr(field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			util.WithAsset(sn.Name).Warnf("sensor=%s field=%s: non-numeric calibration offset %q, using 0", sn.Name, field, raw)
			continue
		}
		sum += v
	}
	return sum / float64(len(sensors))
}
