// Frame source for a power station speaking its binary protocol over TCP.
//
// Client keeps one TCP connection to the device, reassembles the byte stream
// into frames and redials when the connection drops. Frame payloads are not
// interpreted here, see package decode.
//
// Frame layout, multi-byte integers little endian:
//
//	0      magic 0xaa
//	1      version
//	2..3   payload length
//	4      crc8 of bytes 0..3
//	5      flags
//	6..9   sequence
//	10..11 reserved
//	12     src
//	13     dst
//	14     cmd set
//	15     cmd id
//	16..   payload
//	last 2 crc16 of everything before
package transport
