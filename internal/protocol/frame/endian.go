package frame

import "encoding/binary"

// ByteOrderName names a host byte order for diagnostics.
type ByteOrderName string

const (
	LittleEndian ByteOrderName = "little-endian"
	BigEndian    ByteOrderName = "big-endian"
)

// HostByteOrder reports the byte order of the running machine. Wire fields are
// always written through binary.LittleEndian, which swaps only when the host
// order differs.
func HostByteOrder() ByteOrderName {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 0x0102)
	if probe[0] == 0x02 {
		return LittleEndian
	}
	return BigEndian
}
