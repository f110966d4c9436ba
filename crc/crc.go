// Package crc implements checksums used by device framing:
// CRC-8 poly 0x07 over the frame header and CRC-16/ARC over the whole frame.
package crc

const CRC8_POLY_07 byte = 0x07
const CRC16_POLY_A001 uint16 = 0xa001

var (
	table8  [256]byte
	table16 [256]uint16
)

func init() {
	for i := 0; i < 256; i++ {
		table8[i] = CRC8_p07_reference(0, byte(i))
		table16[i] = CRC16_arc_reference(0, byte(i))
	}
}

// Bitwise, slow. Used to build lookup tables and verify them in tests.
func CRC8_p07_reference(crc, data byte) byte {
	crc ^= data
	for i := 0; i < 8; i++ {
		if (crc & 0x80) != 0 {
			crc = (crc << 1) ^ CRC8_POLY_07
		} else {
			crc <<= 1
		}
	}
	return crc
}

func CRC8_p07_next(crc, data byte) byte { return table8[crc^data] }

func CRC8_p07_n(crc byte, bs []byte) byte {
	for _, b := range bs {
		crc = table8[crc^b]
	}
	return crc
}

// Reflected poly 0xA001, init 0.
func CRC16_arc_reference(crc uint16, data byte) uint16 {
	crc ^= uint16(data)
	for i := 0; i < 8; i++ {
		if (crc & 1) != 0 {
			crc = (crc >> 1) ^ CRC16_POLY_A001
		} else {
			crc >>= 1
		}
	}
	return crc
}

func CRC16_arc_n(crc uint16, bs []byte) uint16 {
	for _, b := range bs {
		crc = (crc >> 8) ^ table16[byte(crc)^b]
	}
	return crc
}
