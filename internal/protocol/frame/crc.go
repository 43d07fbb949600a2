package frame

import "math/bits"

// CRCParams describes a 32-bit CRC variant.
type CRCParams struct {
	Polynomial uint32
	Init       uint32
	FinalXor   uint32
	ReflectIn  bool
	ReflectOut bool
}

// CRC32Params is the zlib/Ethernet CRC-32 used by the wire format.
var CRC32Params = CRCParams{
	Polynomial: 0x04C11DB7,
	Init:       0xFFFFFFFF,
	FinalXor:   0xFFFFFFFF,
	ReflectIn:  true,
	ReflectOut: true,
}

// CRC is an immutable table-driven CRC calculator. The table is filled once in
// NewCRC and only read afterwards, so a CRC is safe for concurrent use.
type CRC struct {
	params CRCParams
	table  [256]uint32
}

func NewCRC(params CRCParams) *CRC {
	c := &CRC{params: params}
	for dividend := 0; dividend < len(c.table); dividend++ {
		cur := uint32(dividend) << 24
		for bit := 0; bit < 8; bit++ {
			if cur&0x80000000 != 0 {
				cur = cur<<1 ^ params.Polynomial
			} else {
				cur <<= 1
			}
		}
		c.table[dividend] = cur
	}
	return c
}

func (c *CRC) Params() CRCParams {
	return c.params
}

// Init starts a calculation chain.
func (c *CRC) Init() uint32 {
	return c.params.Init
}

// Update feeds data into a running chain one byte at a time.
func (c *CRC) Update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		if c.params.ReflectIn {
			b = bits.Reverse8(b)
		}
		crc = crc<<8 ^ c.table[byte(crc>>24)^b]
	}
	return crc
}

// Finish applies output reflection and the final xor.
func (c *CRC) Finish(crc uint32) uint32 {
	if c.params.ReflectOut {
		crc = bits.Reverse32(crc)
	}
	return crc ^ c.params.FinalXor
}

func (c *CRC) Checksum(data []byte) uint32 {
	return c.Finish(c.Update(c.Init(), data))
}

// wireCRC is built during package initialization, before any Encode or Decode
// call can run.
var wireCRC = NewCRC(CRC32Params)

// Checksum returns the wire CRC-32 of data.
func Checksum(data []byte) uint32 {
	return wireCRC.Checksum(data)
}
