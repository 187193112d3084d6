package format

// ecma182Poly is the CRC-64/ECMA-182 generator polynomial in MSB-first form.
const ecma182Poly = 0x42F0E1EBA9EA3693

var ecma182Table = makeECMA182Table()

func makeECMA182Table() *[256]uint64 {
	var t [256]uint64
	for i := range t {
		crc := uint64(i) << 56
		for range 8 {
			if crc&(1<<63) != 0 {
				crc = crc<<1 ^ ecma182Poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// Checksum64 returns the CRC-64/ECMA-182 of data: non-reflected, zero initial
// value, no final xor.
func Checksum64(data []byte) uint64 {
	var crc uint64
	for _, b := range data {
		crc = ecma182Table[byte(crc>>56)^b] ^ crc<<8
	}
	return crc
}

// EntryID returns the id of the entry called name: the CRC-64/ECMA-182 of
// its UTF-8 bytes, extension included. Go strings carry no BOM.
func EntryID(name string) uint64 {
	return Checksum64([]byte(name))
}
