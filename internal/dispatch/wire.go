package dispatch

import "encoding/binary"

// eightByteConnIDFlag is PACKET_PUBLIC_FLAGS_8BYTE_CONNECTION_ID (spec §6.1).
const eightByteConnIDFlag = 0x01

// sessionHeaderLen is the 1-byte flags field plus the 8-byte session id.
const sessionHeaderLen = 9

// ParseSessionID extracts the session id (the 8-byte connection id) from
// the first 9 bytes of an inbound UDP datagram. ok is false — and the
// packet must be dropped — when the flags byte does not carry the
// 8-byte-connection-id bit, or the datagram is too short.
func ParseSessionID(datagram []byte) (id uint64, ok bool) {
	if len(datagram) < sessionHeaderLen {
		return 0, false
	}
	if datagram[0]&eightByteConnIDFlag == 0 {
		return 0, false
	}
	return binary.BigEndian.Uint64(datagram[1:sessionHeaderLen]), true
}
