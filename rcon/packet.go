// Package rcon implements a client for the Source RCON protocol: packet
// framing, authentication and command execution with reassembly of
// responses the server splits across several packets.
package rcon

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// WrapperSize is the part of the size field not taken by the body: four
	// bytes of id, four bytes of type and the two NUL terminators.
	WrapperSize = 4 + 4 + 2

	// MaxPacketSize is the largest size field accepted on decode.
	MaxPacketSize = 4096

	// sizeFieldSize is the width of the leading length prefix, which is not
	// counted by the size field itself.
	sizeFieldSize = 4
)

// PacketType is the type field of a packet. The numeric values overlap
// (AUTH_RESPONSE and EXEC_COMMAND are both 2), so a type is only meaningful
// together with the request it answers.
type PacketType int32

const (
	// TypeAuth is sent by the client with the password as body.
	TypeAuth PacketType = 3

	// TypeAuthResponse is the server's answer to TypeAuth. On failure the
	// response id is -1.
	TypeAuthResponse PacketType = 2

	// TypeExecCommand is sent by the client with a console command as body.
	TypeExecCommand PacketType = 2

	// TypeResponseValue carries command output from the server.
	TypeResponseValue PacketType = 0
)

// sentinelBody is what the server answers after mirroring an empty
// TypeResponseValue packet. It marks the end of a command response.
var sentinelBody = []byte{0x00, 0x01, 0x00, 0x00}

// ErrDecode is the target of every DecodeError.
var ErrDecode = errors.New("rcon: decode error")

// ErrInvalidSize is returned for a size field outside [WrapperSize, MaxPacketSize].
var ErrInvalidSize = errors.New("rcon: invalid packet size")

// DecodeError reports a packet whose bytes ended before its size field
// promised. It usually means the stream is out of sync.
type DecodeError struct {
	Want int
	Got  int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rcon: decode error: wanted %d bytes, got %d: %v", e.Want, e.Got, e.Err)
	}

	return fmt.Sprintf("rcon: decode error: wanted %d bytes, got %d", e.Want, e.Got)
}

// Unwrap lets errors.Is match ErrDecode and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}

	return []error{ErrDecode, e.Err}
}

// Packet is one protocol unit. Body must not contain NUL bytes; the wire
// format has no way to tell an embedded NUL from the terminator.
type Packet struct {
	ID   int32
	Type PacketType
	Body []byte
}

// NewPacket builds a packet with a string body.
func NewPacket(id int32, typ PacketType, body string) Packet {
	return Packet{ID: id, Type: typ, Body: []byte(body)}
}

// Size returns the value of the size field on the wire.
func (p Packet) Size() int32 {
	return int32(len(p.Body) + WrapperSize)
}

// IsSentinel reports whether p is the server's end-of-response marker.
func (p Packet) IsSentinel() bool {
	return p.Type == TypeResponseValue && bytes.Equal(p.Body, sentinelBody)
}

// IsEmpty reports whether p carries no body, ignoring type 2 packets which
// are meaningful without one (auth responses).
func (p Packet) IsEmpty() bool {
	return len(p.Body) == 0 && p.Type != 2
}

// Equal reports whether p and o have the same id, type and body.
func (p Packet) Equal(o Packet) bool {
	return p.ID == o.ID && p.Type == o.Type && bytes.Equal(p.Body, o.Body)
}

// Compare orders packets by id only.
func (p Packet) Compare(o Packet) int {
	return cmp.Compare(p.ID, o.ID)
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{id=%d type=%d body=%q}", p.ID, p.Type, p.Body)
}

// Encode returns the wire form of p:
// [size][id][type][body][0x00][0x00], integers little-endian.
func Encode(p Packet) []byte {
	b := make([]byte, sizeFieldSize+int(p.Size()))
	binary.LittleEndian.PutUint32(b[0:4], uint32(p.Size()))
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(p.Type))
	copy(b[12:], p.Body)
	// The two trailing bytes are already zero.
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Packet) MarshalBinary() ([]byte, error) {
	return Encode(p), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Packet) UnmarshalBinary(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}

	*p = d
	return nil
}

// WriteTo writes the wire form of p to w.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(Encode(p))
	return int64(n), err
}

// Hex returns the wire form of p as a hex string, for debug logging.
func (p Packet) Hex() string {
	return hex.EncodeToString(Encode(p))
}

// Decode parses exactly one packet from b, which must hold the 4-byte size
// field followed by exactly size bytes.
func Decode(b []byte) (Packet, error) {
	if len(b) < sizeFieldSize {
		return Packet{}, &DecodeError{Want: sizeFieldSize, Got: len(b)}
	}

	size := int32(binary.LittleEndian.Uint32(b[0:4]))
	if err := checkSize(size); err != nil {
		return Packet{}, err
	}

	rest := b[sizeFieldSize:]
	if len(rest) < int(size) {
		return Packet{}, &DecodeError{Want: int(size), Got: len(rest)}
	}
	if len(rest) > int(size) {
		return Packet{}, fmt.Errorf("%w: %d trailing bytes after packet", ErrDecode, len(rest)-int(size))
	}

	return decodePayload(rest), nil
}

// ReadPacket reads one packet from r: the size field, then exactly size
// bytes. A stream that ends early yields a DecodeError.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [sizeFieldSize]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}

		return Packet{}, &DecodeError{Want: sizeFieldSize, Got: n, Err: err}
	}

	size := int32(binary.LittleEndian.Uint32(header[:]))
	if err := checkSize(size); err != nil {
		return Packet{}, err
	}

	payload := make([]byte, size)
	if n, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, &DecodeError{Want: int(size), Got: n, Err: err}
	}

	return decodePayload(payload), nil
}

func checkSize(size int32) error {
	if size < WrapperSize || size > MaxPacketSize {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	return nil
}

// decodePayload splits id, type and body; the two terminator bytes are
// dropped without inspection.
func decodePayload(payload []byte) Packet {
	body := make([]byte, len(payload)-WrapperSize)
	copy(body, payload[8:len(payload)-2])

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(payload[4:8]))),
		Body: body,
	}
}
