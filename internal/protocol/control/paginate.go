package control

import "github.com/danmuck/nodehub/internal/protocol/tlv"

const (
	// messageTypeLen is the encoded size of the leading message_type field.
	messageTypeLen = tlv.HeaderLen + 4
	// pageOverhead reserves room for the message type and the more flag.
	pageOverhead = messageTypeLen + tlv.HeaderLen + 4
)

// EncodedEntryLen is the number of payload bytes one node entry adds to a
// NodeList.
func EncodedEntryLen(n NodeInfo) int {
	inner := 4*tlv.HeaderLen + 4 + len(n.Name) + len(n.NodeType) + len(n.Description)
	return tlv.HeaderLen + inner
}

// SplitNodeList packs nodes into as few NodeList messages as fit within
// maxPayload bytes each. An empty input yields one empty list so a ListNodes
// request always gets an answer.
func SplitNodeList(nodes []NodeInfo, maxPayload int) []NodeList {
	out := make([]NodeList, 0, 1)
	cur := NodeList{}
	size := pageOverhead
	for _, n := range nodes {
		entry := EncodedEntryLen(n)
		if len(cur.Nodes) > 0 && size+entry > maxPayload {
			cur.More = true
			out = append(out, cur)
			cur = NodeList{}
			size = pageOverhead
		}
		cur.Nodes = append(cur.Nodes, n)
		size += entry
	}
	return append(out, cur)
}
