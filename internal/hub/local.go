package hub

import (
	"errors"
	"fmt"

	"github.com/danmuck/nodehub/internal/capability"
	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/protocol/control"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// HubNode answers hub-control requests: registration, node listing, and
// capability lookups. Replies always carry source id 0 and the requester's id
// (0 while unregistered) as destination.
type HubNode struct {
	capability []byte
	log        zerolog.Logger
}

// NewHubNode returns a handler that serves doc as the hub's own capability
// document. doc may be empty.
func NewHubNode(doc []byte) *HubNode {
	return &HubNode{
		capability: append([]byte(nil), doc...),
		log:        logging.Component("hub.local"),
	}
}

func (h *HubNode) HandleLocal(st *State, src *Conn, f frame.Frame) {
	msg, err := control.Decode(f.Payload)
	if err != nil {
		code := control.CodeMalformed
		if errors.Is(err, control.ErrUnknownMessage) {
			code = control.CodeUnknownType
		}
		h.log.Warn().Err(err).Str("session", src.session).Msg("bad hub-control request")
		h.reply(src, control.Error{Code: code, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case control.Register:
		h.register(st, src, m)
	case control.ListNodes:
		h.listNodes(st, src)
	case control.GetCapability:
		h.getCapability(st, src, m)
	default:
		h.reply(src, control.Error{
			Code:    control.CodeUnknownType,
			Message: fmt.Sprintf("hub does not accept message_type %d", msg.MessageType()),
		})
	}
}

func (h *HubNode) register(st *State, src *Conn, m control.Register) {
	if src.registered {
		h.log.Warn().Uint32("node_id", src.id).Msg("duplicate registration")
		h.reply(src, control.RegisterAck{
			Status:  control.AckStatusRejected,
			NodeID:  src.id,
			Message: "already registered",
		})
		return
	}
	if err := m.Validate(); err != nil {
		h.reject(src, err)
		return
	}
	if len(m.Capability) > 0 {
		if _, err := capability.Parse(m.Capability); err != nil {
			h.reject(src, err)
			return
		}
	}

	id, err := st.Register(src, NodeInfo{
		Name:        m.Name,
		NodeType:    m.NodeType,
		Description: m.Description,
		Capability:  append([]byte(nil), m.Capability...),
	})
	if err != nil {
		h.reject(src, err)
		return
	}
	h.log.Info().
		Uint32("node_id", id).
		Str("name", m.Name).
		Str("node_type", m.NodeType).
		Str("ip", src.ip).
		Msg("node registered")
	h.reply(src, control.RegisterAck{Status: control.AckStatusAccepted, NodeID: id})
}

func (h *HubNode) reject(src *Conn, err error) {
	h.log.Warn().Err(err).Str("session", src.session).Msg("registration rejected")
	h.reply(src, control.RegisterAck{
		Status:  control.AckStatusRejected,
		Message: err.Error(),
	})
}

func (h *HubNode) listNodes(st *State, src *Conn) {
	nodes := st.registry.Nodes()
	infos := make([]control.NodeInfo, 0, len(nodes))
	for _, c := range nodes {
		infos = append(infos, control.NodeInfo{
			NodeID:      c.id,
			Name:        c.info.Name,
			NodeType:    c.info.NodeType,
			Description: c.info.Description,
		})
	}
	for _, page := range control.SplitNodeList(infos, frame.MaxPayloadLen) {
		h.reply(src, page)
	}
}

func (h *HubNode) getCapability(st *State, src *Conn, m control.GetCapability) {
	if m.NodeID == frame.HubID {
		h.reply(src, control.Capability{NodeID: frame.HubID, Document: h.capability})
		return
	}
	doc, err := st.Capability(m.NodeID)
	if err != nil {
		h.reply(src, control.Error{Code: control.CodeNotFound, Message: err.Error()})
		return
	}
	h.reply(src, control.Capability{NodeID: m.NodeID, Document: doc})
}

func (h *HubNode) reply(dst *Conn, m control.Message) {
	payload, err := control.Encode(m)
	if err != nil {
		h.log.Error().Err(err).Uint32("message_type", m.MessageType()).Msg("encode hub reply")
		return
	}
	f, err := frame.New(frame.HubID, dst.id, payload)
	if err != nil {
		h.log.Error().Err(err).Uint32("message_type", m.MessageType()).Msg("frame hub reply")
		return
	}
	if err := dst.Send(f); err != nil {
		h.log.Warn().Err(err).Str("session", dst.session).Msg("hub reply not delivered")
	}
}
