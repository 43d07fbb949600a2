// Package schema defines the hub-control message catalogue carried in frames
// addressed to the hub, and validates required fields per message type.
package schema

import (
	"fmt"

	"github.com/danmuck/nodehub/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs carried in FieldMessageType.
const (
	MsgRegister      uint32 = 1
	MsgRegisterAck   uint32 = 2
	MsgListNodes     uint32 = 3
	MsgNodeList      uint32 = 4
	MsgGetCapability uint32 = 5
	MsgCapability    uint32 = 6
	MsgError         uint32 = 7
)

// Field IDs from tlv contract.
const (
	FieldMessageType uint16 = 1

	FieldName        uint16 = 100
	FieldNodeType    uint16 = 101
	FieldDescription uint16 = 102
	FieldCapability  uint16 = 103

	FieldStatus  uint16 = 200
	FieldNodeID  uint16 = 201
	FieldMessage uint16 = 202

	FieldNodeEntry uint16 = 300
	FieldMore      uint16 = 301

	FieldErrorCode uint16 = 400
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgRegister: {
		{FieldName, tlv.TypeString},
		{FieldNodeType, tlv.TypeString},
		{FieldDescription, tlv.TypeString},
	},
	MsgRegisterAck: {
		{FieldStatus, tlv.TypeString},
		{FieldNodeID, tlv.TypeU32},
		{FieldMessage, tlv.TypeString},
	},
	MsgListNodes: {},
	MsgNodeList:  {},
	MsgGetCapability: {
		{FieldNodeID, tlv.TypeU32},
	},
	MsgCapability: {
		{FieldNodeID, tlv.TypeU32},
		{FieldCapability, tlv.TypeBytes},
	},
	MsgError: {
		{FieldErrorCode, tlv.TypeU32},
		{FieldMessage, tlv.TypeString},
	},
}

// optional fields are type checked when present.
var optional = map[uint32][]Requirement{
	MsgRegister: {{FieldCapability, tlv.TypeBytes}},
	MsgNodeList: {
		{FieldNodeEntry, tlv.TypeBytes},
		{FieldMore, tlv.TypeU32},
	},
}

// MessageType extracts and type checks FieldMessageType.
func MessageType(fields []tlv.Field) (uint32, error) {
	f, ok := tlv.GetField(fields, FieldMessageType)
	if !ok {
		return 0, ValidationError{FieldID: FieldMessageType, Reason: "missing message_type"}
	}
	if f.Type != tlv.TypeU32 {
		return 0, ValidationError{FieldID: FieldMessageType, Reason: "type mismatch"}
	}
	return tlv.U32FromBytes(f.Value)
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		for _, f := range tlv.GetAll(fields, opt.ID) {
			if f.Type != opt.Type {
				return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
			}
		}
	}
	return nil
}
