package icmp

// Checksum computes the Internet checksum (RFC 1071) of b: the one's
// complement of the one's-complement sum of big-endian 16-bit words. The sum
// is accumulated in 32 bits and folded twice; a trailing odd byte is padded
// with a zero low byte. An empty buffer yields 0xFFFF.
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16
	return ^uint16(sum)
}

// Valid reports whether a message carrying its own checksum sums to zero.
func Valid(b []byte) bool {
	return Checksum(b) == 0
}
