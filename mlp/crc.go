package mlp

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF, no input or
// output reflection, no final XOR. This matches the checksum the mill MCU
// appends to every frame.
const (
	crcPoly uint16 = 0x1021
	crcInit uint16 = 0xFFFF
)

var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// CRC16 computes the CRC-16/CCITT-FALSE checksum of data.
func CRC16(data []byte) uint16 {
	return UpdateCRC16(crcInit, data)
}

// UpdateCRC16 folds data into a running checksum previously produced by
// CRC16 or UpdateCRC16. Feeding a byte stream in chunks yields the same
// result as a single CRC16 call over the concatenation.
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}

	return crc
}
