// Package capability models the device-capability document a node publishes at
// registration: interfaces, their fields, and the typed arguments of each field.
// The hub stores the document opaquely and only validates its shape.
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidDocument = errors.New("capability: invalid document")

type DataType string

const (
	TypeInteger DataType = "integer"
	TypeDouble  DataType = "double"
	TypeString  DataType = "string"
	TypeByte    DataType = "byte"
)

func (d DataType) valid() bool {
	switch d {
	case TypeInteger, TypeDouble, TypeString, TypeByte:
		return true
	}
	return false
}

type FieldKind string

const (
	KindData     FieldKind = "data"
	KindTrigger  FieldKind = "trigger"
	KindFunction FieldKind = "function"
)

// Descriptor is shared by interfaces, fields, and arguments.
type Descriptor struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Argument is one typed value. Length > 0 marks a fixed-length argument;
// zero means variable length.
type Argument struct {
	Descriptor
	DataType DataType `json:"data_type"`
	Length   int      `json:"length,omitempty"`
}

func (a Argument) FixedLength() bool {
	return a.Length > 0
}

// DataField is a readable and/or writable data point.
type DataField struct {
	ReadAllowed  bool       `json:"read_allowed"`
	WriteAllowed bool       `json:"write_allowed"`
	Arguments    []Argument `json:"arguments"`
}

// TriggerField is an event source or sink.
type TriggerField struct {
	Input     bool       `json:"input"`
	Output    bool       `json:"output"`
	Arguments []Argument `json:"arguments"`
}

// FunctionField is a callable with input and output arguments.
type FunctionField struct {
	InputArguments  []Argument `json:"input_arguments"`
	OutputArguments []Argument `json:"output_arguments"`
}

// Field is a tagged variant: exactly one of Data, Trigger, Function is set and
// matches Kind.
type Field struct {
	Descriptor
	Kind     FieldKind
	Data     *DataField
	Trigger  *TriggerField
	Function *FunctionField
}

type fieldJSON struct {
	Descriptor
	Kind FieldKind `json:"field_type"`

	ReadAllowed     *bool      `json:"read_allowed,omitempty"`
	WriteAllowed    *bool      `json:"write_allowed,omitempty"`
	Input           *bool      `json:"input,omitempty"`
	Output          *bool      `json:"output,omitempty"`
	Arguments       []Argument `json:"arguments,omitempty"`
	InputArguments  []Argument `json:"input_arguments,omitempty"`
	OutputArguments []Argument `json:"output_arguments,omitempty"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{Descriptor: f.Descriptor, Kind: f.Kind}
	switch f.Kind {
	case KindData:
		if f.Data != nil {
			out.ReadAllowed, out.WriteAllowed = &f.Data.ReadAllowed, &f.Data.WriteAllowed
			out.Arguments = f.Data.Arguments
		}
	case KindTrigger:
		if f.Trigger != nil {
			out.Input, out.Output = &f.Trigger.Input, &f.Trigger.Output
			out.Arguments = f.Trigger.Arguments
		}
	case KindFunction:
		if f.Function != nil {
			out.InputArguments = f.Function.InputArguments
			out.OutputArguments = f.Function.OutputArguments
		}
	}
	return json.Marshal(out)
}

func (f *Field) UnmarshalJSON(b []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*f = Field{Descriptor: in.Descriptor, Kind: in.Kind}
	switch in.Kind {
	case KindData:
		f.Data = &DataField{
			ReadAllowed:  deref(in.ReadAllowed),
			WriteAllowed: deref(in.WriteAllowed),
			Arguments:    in.Arguments,
		}
	case KindTrigger:
		f.Trigger = &TriggerField{
			Input:     deref(in.Input),
			Output:    deref(in.Output),
			Arguments: in.Arguments,
		}
	case KindFunction:
		f.Function = &FunctionField{
			InputArguments:  in.InputArguments,
			OutputArguments: in.OutputArguments,
		}
	default:
		return fmt.Errorf("%w: unknown field_type %q", ErrInvalidDocument, in.Kind)
	}
	return nil
}

func deref(b *bool) bool {
	return b != nil && *b
}

type Interface struct {
	Descriptor
	Fields []Field `json:"fields"`
}

// Document is the full capability description of one node.
type Document struct {
	InterfaceVersion float64     `json:"interface_version"`
	NodeType         string      `json:"node_type"`
	NodeName         string      `json:"node_name"`
	NodeDescription  string      `json:"node_description,omitempty"`
	NodeVersion      float64     `json:"node_version"`
	Interfaces       []Interface `json:"interfaces"`
}

// Parse decodes and validates a capability document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		if errors.Is(err, ErrInvalidDocument) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// LoadFile reads and parses a capability document from disk. The raw bytes are
// returned alongside so the caller can serve them unchanged.
func LoadFile(path string) (Document, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, nil, fmt.Errorf("capability load failed (%s): %w", path, err)
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, nil, fmt.Errorf("capability parse failed (%s): %w", path, err)
	}
	return doc, raw, nil
}

func (d Document) Validate() error {
	if strings.TrimSpace(d.NodeType) == "" {
		return fmt.Errorf("%w: missing node_type", ErrInvalidDocument)
	}
	if strings.TrimSpace(d.NodeName) == "" {
		return fmt.Errorf("%w: missing node_name", ErrInvalidDocument)
	}
	if d.InterfaceVersion <= 0 {
		return fmt.Errorf("%w: interface_version must be positive", ErrInvalidDocument)
	}
	seen := make(map[int]bool, len(d.Interfaces))
	for i, iface := range d.Interfaces {
		if err := validateDescriptor(iface.Descriptor); err != nil {
			return fmt.Errorf("%w: interfaces[%d]: %v", ErrInvalidDocument, i, err)
		}
		if seen[iface.Index] {
			return fmt.Errorf("%w: interfaces[%d]: duplicate index %d", ErrInvalidDocument, i, iface.Index)
		}
		seen[iface.Index] = true
		if err := validateFields(iface.Fields); err != nil {
			return fmt.Errorf("%w: interfaces[%d]: %v", ErrInvalidDocument, i, err)
		}
	}
	return nil
}

func validateFields(fields []Field) error {
	seen := make(map[int]bool, len(fields))
	for i, f := range fields {
		if err := validateDescriptor(f.Descriptor); err != nil {
			return fmt.Errorf("fields[%d]: %v", i, err)
		}
		if seen[f.Index] {
			return fmt.Errorf("fields[%d]: duplicate index %d", i, f.Index)
		}
		seen[f.Index] = true
		var args [][]Argument
		switch f.Kind {
		case KindData:
			if f.Data == nil {
				return fmt.Errorf("fields[%d]: data variant missing", i)
			}
			if !f.Data.ReadAllowed && !f.Data.WriteAllowed {
				return fmt.Errorf("fields[%d]: data field neither readable nor writable", i)
			}
			args = append(args, f.Data.Arguments)
		case KindTrigger:
			if f.Trigger == nil {
				return fmt.Errorf("fields[%d]: trigger variant missing", i)
			}
			args = append(args, f.Trigger.Arguments)
		case KindFunction:
			if f.Function == nil {
				return fmt.Errorf("fields[%d]: function variant missing", i)
			}
			args = append(args, f.Function.InputArguments, f.Function.OutputArguments)
		default:
			return fmt.Errorf("fields[%d]: unknown field_type %q", i, f.Kind)
		}
		for _, list := range args {
			if err := validateArguments(list); err != nil {
				return fmt.Errorf("fields[%d]: %v", i, err)
			}
		}
	}
	return nil
}

func validateArguments(args []Argument) error {
	for i, a := range args {
		if err := validateDescriptor(a.Descriptor); err != nil {
			return fmt.Errorf("arguments[%d]: %v", i, err)
		}
		if !a.DataType.valid() {
			return fmt.Errorf("arguments[%d]: unknown data_type %q", i, a.DataType)
		}
		if a.Length < 0 {
			return fmt.Errorf("arguments[%d]: negative length", i)
		}
	}
	return nil
}

func validateDescriptor(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("missing name")
	}
	if d.Index < 0 {
		return errors.New("negative index")
	}
	return nil
}
