package message

// FixedLengthStringBytes returns str as exactly length bytes, zero-padded
// or truncated.
//
// Parameters:
//   - str: The string to convert to bytes
//   - length: The fixed length of the resulting byte slice
//
// Returns:
//   - A byte slice of length bytes with the string content
func FixedLengthStringBytes(str string, length int) []byte {
	if length <= 0 {
		return []byte{}
	}

	b := make([]byte, length)
	copy(b, str)
	return b
}

// JoinBytes concatenates the given byte slices into a new byte slice.
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}
