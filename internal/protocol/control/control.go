// Package control encodes the hub-control messages exchanged between nodes and
// the hub (destination id 0) as TLV payloads.
package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/nodehub/internal/protocol/schema"
	"github.com/danmuck/nodehub/internal/protocol/tlv"
)

const (
	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

// Error codes carried by Error messages.
const (
	CodeUnknownType   uint32 = 1
	CodeMalformed     uint32 = 2
	CodeNotFound      uint32 = 3
	CodeNotRegistered uint32 = 4
	CodeInternal      uint32 = 5
)

const maxTextLen = 256

var (
	ErrInvalidRegistration    = errors.New("control: invalid registration")
	ErrInvalidRegistrationAck = errors.New("control: invalid registration ack")
	ErrUnknownMessage         = errors.New("control: unknown message type")
)

// Message is implemented by every hub-control message.
type Message interface {
	MessageType() uint32
	fields() []tlv.Field
}

// Register is the node->hub registration request.
type Register struct {
	Name        string
	NodeType    string
	Description string
	Capability  []byte
}

func (Register) MessageType() uint32 { return schema.MsgRegister }

func (r Register) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.NodeType) == "" {
		return fmt.Errorf("%w: missing node_type", ErrInvalidRegistration)
	}
	if len(r.Name) > maxTextLen || len(r.NodeType) > maxTextLen || len(r.Description) > maxTextLen {
		return fmt.Errorf("%w: text field longer than %d bytes", ErrInvalidRegistration, maxTextLen)
	}
	return nil
}

func (r Register) fields() []tlv.Field {
	out := []tlv.Field{
		tlv.String(schema.FieldName, r.Name),
		tlv.String(schema.FieldNodeType, r.NodeType),
		tlv.String(schema.FieldDescription, r.Description),
	}
	if len(r.Capability) > 0 {
		out = append(out, tlv.Bytes(schema.FieldCapability, r.Capability))
	}
	return out
}

// RegisterAck is the hub->node registration response.
type RegisterAck struct {
	Status  string
	NodeID  uint32
	Message string
}

func (RegisterAck) MessageType() uint32 { return schema.MsgRegisterAck }

func (a RegisterAck) Validate() error {
	switch a.Status {
	case AckStatusAccepted:
		if a.NodeID == 0 {
			return fmt.Errorf("%w: accepted without node_id", ErrInvalidRegistrationAck)
		}
	case AckStatusRejected:
	default:
		return fmt.Errorf("%w: invalid status %q", ErrInvalidRegistrationAck, a.Status)
	}
	return nil
}

func (a RegisterAck) Accepted() bool {
	return a.Status == AckStatusAccepted
}

func (a RegisterAck) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldStatus, a.Status),
		tlv.U32(schema.FieldNodeID, a.NodeID),
		tlv.String(schema.FieldMessage, a.Message),
	}
}

// ListNodes asks the hub for every registered node.
type ListNodes struct{}

func (ListNodes) MessageType() uint32 { return schema.MsgListNodes }

func (ListNodes) fields() []tlv.Field { return nil }

// NodeInfo describes one registered node.
type NodeInfo struct {
	NodeID      uint32 `json:"node_id"`
	Name        string `json:"name"`
	NodeType    string `json:"node_type"`
	Description string `json:"description"`
}

// NodeList answers ListNodes. Large fleets span several messages; More is
// set on every page but the last.
type NodeList struct {
	Nodes []NodeInfo
	More  bool
}

func (NodeList) MessageType() uint32 { return schema.MsgNodeList }

func (l NodeList) fields() []tlv.Field {
	out := make([]tlv.Field, 0, len(l.Nodes))
	for _, n := range l.Nodes {
		entry := tlv.EncodeFields([]tlv.Field{
			tlv.U32(schema.FieldNodeID, n.NodeID),
			tlv.String(schema.FieldName, n.Name),
			tlv.String(schema.FieldNodeType, n.NodeType),
			tlv.String(schema.FieldDescription, n.Description),
		})
		out = append(out, tlv.Bytes(schema.FieldNodeEntry, entry))
	}
	if l.More {
		out = append(out, tlv.U32(schema.FieldMore, 1))
	}
	return out
}

// GetCapability asks for the capability document of NodeID (0 is the hub).
type GetCapability struct {
	NodeID uint32
}

func (GetCapability) MessageType() uint32 { return schema.MsgGetCapability }

func (g GetCapability) fields() []tlv.Field {
	return []tlv.Field{tlv.U32(schema.FieldNodeID, g.NodeID)}
}

// Capability carries an opaque capability document.
type Capability struct {
	NodeID   uint32
	Document []byte
}

func (Capability) MessageType() uint32 { return schema.MsgCapability }

func (c Capability) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldNodeID, c.NodeID),
		tlv.Bytes(schema.FieldCapability, c.Document),
	}
}

// Error reports a failed hub-control request.
type Error struct {
	Code    uint32
	Message string
}

func (Error) MessageType() uint32 { return schema.MsgError }

func (e Error) Error() string {
	return fmt.Sprintf("control: hub error code=%d: %s", e.Code, e.Message)
}

func (e Error) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldErrorCode, e.Code),
		tlv.String(schema.FieldMessage, e.Message),
	}
}

// Encode renders m as a frame payload.
func Encode(m Message) ([]byte, error) {
	if v, ok := m.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	fields := append([]tlv.Field{tlv.U32(schema.FieldMessageType, m.MessageType())}, m.fields()...)
	return tlv.EncodeFields(fields), nil
}

// Decode parses a frame payload into a typed message.
func Decode(payload []byte) (Message, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	mt, err := schema.MessageType(fields)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(mt, fields); err != nil {
		var ve schema.ValidationError
		if errors.As(err, &ve) && ve.Reason == "unknown message_type" {
			return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, mt)
		}
		return nil, err
	}

	switch mt {
	case schema.MsgRegister:
		r := Register{
			Name:        str(fields, schema.FieldName),
			NodeType:    str(fields, schema.FieldNodeType),
			Description: str(fields, schema.FieldDescription),
		}
		if f, ok := tlv.GetField(fields, schema.FieldCapability); ok {
			r.Capability = f.Value
		}
		return r, nil
	case schema.MsgRegisterAck:
		id, err := u32(fields, schema.FieldNodeID)
		if err != nil {
			return nil, err
		}
		ack := RegisterAck{
			Status:  str(fields, schema.FieldStatus),
			NodeID:  id,
			Message: str(fields, schema.FieldMessage),
		}
		if err := ack.Validate(); err != nil {
			return nil, err
		}
		return ack, nil
	case schema.MsgListNodes:
		return ListNodes{}, nil
	case schema.MsgNodeList:
		return decodeNodeList(fields)
	case schema.MsgGetCapability:
		id, err := u32(fields, schema.FieldNodeID)
		if err != nil {
			return nil, err
		}
		return GetCapability{NodeID: id}, nil
	case schema.MsgCapability:
		id, err := u32(fields, schema.FieldNodeID)
		if err != nil {
			return nil, err
		}
		doc, _ := tlv.GetField(fields, schema.FieldCapability)
		return Capability{NodeID: id, Document: doc.Value}, nil
	case schema.MsgError:
		code, err := u32(fields, schema.FieldErrorCode)
		if err != nil {
			return nil, err
		}
		return Error{Code: code, Message: str(fields, schema.FieldMessage)}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, mt)
}

func decodeNodeList(fields []tlv.Field) (NodeList, error) {
	entries := tlv.GetAll(fields, schema.FieldNodeEntry)
	out := NodeList{Nodes: make([]NodeInfo, 0, len(entries))}
	if more, ok := tlv.GetField(fields, schema.FieldMore); ok {
		v, err := tlv.U32FromBytes(more.Value)
		if err != nil {
			return NodeList{}, fmt.Errorf("control: more: %w", err)
		}
		out.More = v != 0
	}
	for i, e := range entries {
		inner, err := tlv.DecodeFields(e.Value)
		if err != nil {
			return NodeList{}, fmt.Errorf("control: node_entry[%d]: %w", i, err)
		}
		id, err := u32(inner, schema.FieldNodeID)
		if err != nil {
			return NodeList{}, fmt.Errorf("control: node_entry[%d]: %w", i, err)
		}
		out.Nodes = append(out.Nodes, NodeInfo{
			NodeID:      id,
			Name:        str(inner, schema.FieldName),
			NodeType:    str(inner, schema.FieldNodeType),
			Description: str(inner, schema.FieldDescription),
		})
	}
	return out, nil
}

func str(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}

func u32(fields []tlv.Field, id uint16) (uint32, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("control: missing field %d", id)
	}
	if err := tlv.MustType(f, tlv.TypeU32); err != nil {
		return 0, err
	}
	return tlv.U32FromBytes(f.Value)
}
