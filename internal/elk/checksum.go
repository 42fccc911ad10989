package elk

// Checksum is the two's complement of the byte sum of an ASCII frame,
// excluding the checksum itself.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}
