package checkpoints

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX protobuf field numbers (onnx.proto3). Only the messages needed to carry
// parameters as graph initializers are encoded.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelVersion         protowire.Number = 5
	modelDocString       protowire.Number = 6
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14

	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
	tensorRawData   protowire.Number = 9

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	onnxFloat = 1

	onnxIRVersion = 7
	onnxOpset     = 13
)

const optimizerPrefix = "optimizer/"

// ONNXExporter writes checkpoints as ONNX models whose graph holds every
// parameter as an initializer. Training state travels in metadata_props.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// Marshal encodes checkpoint as an ONNX ModelProto
func (oe *ONNXExporter) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	var graph []byte
	graph = protowire.AppendTag(graph, graphName, protowire.BytesType)
	graph = protowire.AppendString(graph, checkpoint.Component)
	for _, w := range checkpoint.Weights {
		graph = appendInitializer(graph, w.Name, w)
	}
	if opt := checkpoint.OptimizerState; opt != nil {
		for _, w := range opt.StateData {
			graph = appendInitializer(graph, optimizerPrefix+w.Name, w)
		}
	}

	var b []byte
	b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxIRVersion)
	b = protowire.AppendTag(b, modelProducerName, protowire.BytesType)
	b = protowire.AppendString(b, framework)
	b = protowire.AppendTag(b, modelProducerVersion, protowire.BytesType)
	b = protowire.AppendString(b, frameworkVersion)
	b = protowire.AppendTag(b, modelVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	if checkpoint.Metadata.Description != "" {
		b = protowire.AppendTag(b, modelDocString, protowire.BytesType)
		b = protowire.AppendString(b, checkpoint.Metadata.Description)
	}
	b = protowire.AppendTag(b, modelGraph, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)

	var opset []byte
	opset = protowire.AppendTag(opset, opsetDomain, protowire.BytesType)
	opset = protowire.AppendString(opset, "")
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpset)
	b = protowire.AppendTag(b, modelOpsetImport, protowire.BytesType)
	b = protowire.AppendBytes(b, opset)

	props, err := metadataProps(checkpoint)
	if err != nil {
		return nil, err
	}
	for _, kv := range props {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, kv[0])
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendString(entry, kv[1])
		b = protowire.AppendTag(b, modelMetadataProps, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	return b, nil
}

func appendInitializer(b []byte, name string, w WeightTensor) []byte {
	var t []byte
	var dims []byte
	for _, d := range w.Shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	t = protowire.AppendTag(t, tensorDims, protowire.BytesType)
	t = protowire.AppendBytes(t, dims)
	t = protowire.AppendTag(t, tensorDataType, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxFloat)

	floats := make([]byte, 0, 4*len(w.Data))
	for _, v := range w.Data {
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	t = protowire.AppendTag(t, tensorFloatData, protowire.BytesType)
	t = protowire.AppendBytes(t, floats)
	t = protowire.AppendTag(t, tensorName, protowire.BytesType)
	t = protowire.AppendString(t, name)

	b = protowire.AppendTag(b, graphInitializer, protowire.BytesType)
	return protowire.AppendBytes(b, t)
}

func metadataProps(c *Checkpoint) ([][2]string, error) {
	ts := c.TrainingState
	props := [][2]string{
		{"checkpoint_id", c.ID},
		{"component", c.Component},
		{"created_at", c.Metadata.CreatedAt.Format(time.RFC3339Nano)},
		{"epoch", strconv.Itoa(ts.Epoch)},
		{"step", strconv.Itoa(ts.Step)},
		{"learning_rate", strconv.FormatFloat(ts.LearningRate, 'g', -1, 64)},
		{"val_loss", strconv.FormatFloat(ts.ValLoss, 'g', -1, 64)},
		{"loss", strconv.FormatFloat(ts.Loss, 'g', -1, 64)},
	}
	if len(c.Metadata.Tags) > 0 {
		tags, err := json.Marshal(c.Metadata.Tags)
		if err != nil {
			return nil, err
		}
		props = append(props, [2]string{"tags", string(tags)})
	}
	if opt := c.OptimizerState; opt != nil {
		params, err := json.Marshal(opt.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode optimizer parameters: %w", err)
		}
		props = append(props,
			[2]string{"optimizer_type", opt.Type},
			[2]string{"optimizer_parameters", string(params)},
		)
	}
	return props, nil
}

// ONNXImporter reads checkpoints written by ONNXExporter
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

// Unmarshal decodes an ONNX ModelProto into a checkpoint
func (oi *ONNXImporter) Unmarshal(data []byte) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	props := make(map[string]string)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case modelProducerName:
			checkpoint.Metadata.Framework = string(v)
		case modelProducerVersion:
			checkpoint.Metadata.Version = string(v)
		case modelDocString:
			checkpoint.Metadata.Description = string(v)
		case modelGraph:
			return oi.readGraph(v, checkpoint)
		case modelMetadataProps:
			var key, value string
			err := walkFields(v, func(n protowire.Number, _ protowire.Type, b []byte, _ uint64) error {
				switch n {
				case entryKey:
					key = string(b)
				case entryValue:
					value = string(b)
				}
				return nil
			})
			if err != nil {
				return err
			}
			props[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode ONNX model: %w", err)
	}

	if err := applyMetadataProps(checkpoint, props); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

func (oi *ONNXImporter) readGraph(data []byte, checkpoint *Checkpoint) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case graphName:
			checkpoint.Component = string(v)
		case graphInitializer:
			name, w, err := readTensor(v)
			if err != nil {
				return err
			}
			if len(name) > len(optimizerPrefix) && name[:len(optimizerPrefix)] == optimizerPrefix {
				if checkpoint.OptimizerState == nil {
					checkpoint.OptimizerState = &OptimizerState{}
				}
				w.Name = name[len(optimizerPrefix):]
				checkpoint.OptimizerState.StateData = append(checkpoint.OptimizerState.StateData, w)
				return nil
			}
			checkpoint.Weights = append(checkpoint.Weights, w)
		}
		return nil
	})
}

func readTensor(data []byte) (string, WeightTensor, error) {
	var w WeightTensor
	var name string
	dataType := uint64(onnxFloat)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case tensorName:
			name = string(v)
		case tensorDataType:
			dataType = scalar
		case tensorDims:
			if typ == protowire.VarintType {
				w.Shape = append(w.Shape, int(scalar))
				return nil
			}
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				w.Shape = append(w.Shape, int(d))
				v = v[n:]
			}
		case tensorFloatData:
			if typ == protowire.Fixed32Type {
				w.Data = append(w.Data, math.Float32frombits(uint32(scalar)))
				return nil
			}
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				w.Data = append(w.Data, math.Float32frombits(bits))
				v = v[n:]
			}
		case tensorRawData:
			if len(v)%4 != 0 {
				return fmt.Errorf("raw_data length %d is not a multiple of 4", len(v))
			}
			for i := 0; i < len(v); i += 4 {
				w.Data = append(w.Data, math.Float32frombits(binary.LittleEndian.Uint32(v[i:])))
			}
		}
		return nil
	})
	if err != nil {
		return "", w, err
	}
	if dataType != onnxFloat {
		return "", w, fmt.Errorf("initializer %q has unsupported data type %d", name, dataType)
	}
	w.Name = name
	return name, w, nil
}

func applyMetadataProps(c *Checkpoint, props map[string]string) error {
	var err error
	parseInt := func(key string) int {
		if v, ok := props[key]; ok && err == nil {
			var n int
			n, err = strconv.Atoi(v)
			return n
		}
		return 0
	}
	parseFloat := func(key string) float64 {
		if v, ok := props[key]; ok && err == nil {
			var f float64
			f, err = strconv.ParseFloat(v, 64)
			return f
		}
		return 0
	}

	c.ID = props["checkpoint_id"]
	if comp, ok := props["component"]; ok {
		c.Component = comp
	}
	c.TrainingState = TrainingState{
		Epoch:        parseInt("epoch"),
		Step:         parseInt("step"),
		LearningRate: parseFloat("learning_rate"),
		ValLoss:      parseFloat("val_loss"),
		Loss:         parseFloat("loss"),
	}
	if err != nil {
		return fmt.Errorf("bad training state in ONNX metadata: %w", err)
	}

	if ts, ok := props["created_at"]; ok {
		if c.Metadata.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("bad created_at in ONNX metadata: %w", err)
		}
	}
	if tags, ok := props["tags"]; ok {
		if err := json.Unmarshal([]byte(tags), &c.Metadata.Tags); err != nil {
			return fmt.Errorf("bad tags in ONNX metadata: %w", err)
		}
	}
	if typ, ok := props["optimizer_type"]; ok {
		if c.OptimizerState == nil {
			c.OptimizerState = &OptimizerState{}
		}
		c.OptimizerState.Type = typ
		if params, ok := props["optimizer_parameters"]; ok {
			if err := json.Unmarshal([]byte(params), &c.OptimizerState.Parameters); err != nil {
				return fmt.Errorf("bad optimizer parameters in ONNX metadata: %w", err)
			}
		}
	}
	return nil
}

// walkFields iterates over the top-level fields of a protobuf message. For
// length-delimited fields v holds the payload; for varint and fixed fields
// scalar holds the value.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var v []byte
		var scalar uint64
		switch typ {
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(data)
			scalar = uint64(x)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, v, scalar); err != nil {
			return err
		}
	}
	return nil
}
