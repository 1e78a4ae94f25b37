// Package utils provides the byte and string helpers shared by the RCON
// server, the web API client and the CLI.
package utils

// JoinBytes concatenates the given byte slices into a single byte slice. The
// RCON server uses it to put several encoded packets on the wire in one
// write.
//
// Parameters:
//   - s: One or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
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
