package framebuffer

import (
	"bytes"
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
)

// RFB protocol constants used by the handshake and message framing.
const (
	securityInvalid uint8 = 0
	securityNone    uint8 = 1
	securityVNCAuth uint8 = 2

	resultOK     uint32 = 0
	resultFailed uint32 = 1

	msgSetPixelFormat           uint8 = 0
	msgSetEncodings             uint8 = 2
	msgFramebufferUpdateRequest uint8 = 3
	msgKeyEvent                 uint8 = 4
	msgPointerEvent             uint8 = 5
	msgClientCutText            uint8 = 6
	msgEnableContinuousUpdates  uint8 = 150
	msgSetDesktopSize           uint8 = 251

	challengeSize = 16
	// maxCutText bounds a single clipboard message.
	maxCutText = 16 << 20
)

var errUnsupportedVersion = errors.New("unsupported RFB version")

// version is a negotiated RFB protocol minor version (3.x).
type version int

const (
	v33 version = 3
	v37 version = 7
	v38 version = 8
)

func (v version) banner() []byte {
	return []byte(fmt.Sprintf("RFB 003.%03d\n", int(v)))
}

// parseVersion reads a 12-byte ProtocolVersion message. Unknown minors are
// mapped the way common servers do: anything >= 8 speaks 3.8, 4-6 speak 3.3.
func parseVersion(b []byte) (version, error) {
	var major, minor int
	if len(b) != 12 || b[11] != '\n' {
		return 0, fmt.Errorf("%w: %q", errUnsupportedVersion, b)
	}
	if _, err := fmt.Sscanf(string(b), "RFB %03d.%03d\n", &major, &minor); err != nil || major != 3 {
		return 0, fmt.Errorf("%w: %q", errUnsupportedVersion, b)
	}
	switch {
	case minor >= 8:
		return v38, nil
	case minor == 7:
		return v37, nil
	case minor >= 3:
		return v33, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnsupportedVersion, b)
	}
}

func readVersion(r io.Reader) (version, error) {
	buf := make([]byte, 12)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return parseVersion(buf)
}

// vncResponse is the DES encryption of challenge keyed by the secret, as
// defined by VNC Authentication: at most 8 bytes, zero padded, each byte
// bit-reversed.
func vncResponse(secret string, challenge []byte) []byte {
	key := make([]byte, 8)
	copy(key, secret)
	for i := range key {
		key[i] = bits.Reverse8(key[i])
	}
	block, err := des.NewCipher(key)
	if err != nil {
		// Unreachable: the key is always 8 bytes.
		panic(err)
	}

	out := make([]byte, challengeSize)
	for i := 0; i < challengeSize; i += des.BlockSize {
		block.Encrypt(out[i:i+des.BlockSize], challenge[i:i+des.BlockSize])
	}
	return out
}

// verifyResponse compares in constant time, so rejection takes the same
// time however many leading bytes match.
func verifyResponse(secret string, challenge, response []byte) bool {
	expected := vncResponse(secret, challenge)
	return subtle.ConstantTimeCompare(expected, response) == 1
}

func newChallenge() ([]byte, error) {
	challenge := make([]byte, challengeSize)
	_, err := rand.Read(challenge)
	return challenge, err
}

func writeFailure(w io.Writer, v version, reason string) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, resultFailed)
	if v >= v38 {
		binary.Write(&buf, binary.BigEndian, uint32(len(reason)))
		buf.WriteString(reason)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readReason(r io.Reader) string {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil || n > 4096 {
		return "unknown"
	}
	reason := make([]byte, n)
	if _, err := io.ReadFull(r, reason); err != nil {
		return "unknown"
	}
	return string(reason)
}

// serverInit is the ServerInit message verbatim plus the parsed geometry.
type serverInit struct {
	raw    []byte
	width  uint16
	height uint16
	name   string
}

// dialHandshake performs the client side of the handshake against the
// capture server, which must offer security type None.
func dialHandshake(rw io.ReadWriter) (*serverInit, error) {
	serverVersion, err := readVersion(rw)
	if err != nil {
		return nil, fmt.Errorf("reading capture version: %w", err)
	}
	v := serverVersion
	if _, err := rw.Write(v.banner()); err != nil {
		return nil, err
	}

	if v == v33 {
		var sec uint32
		if err := binary.Read(rw, binary.BigEndian, &sec); err != nil {
			return nil, err
		}
		if uint8(sec) == securityInvalid {
			return nil, fmt.Errorf("capture refused connection: %s", readReason(rw))
		}
		if sec != uint32(securityNone) {
			return nil, fmt.Errorf("capture requires security type %d", sec)
		}
	} else {
		var count uint8
		if err := binary.Read(rw, binary.BigEndian, &count); err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("capture refused connection: %s", readReason(rw))
		}
		types := make([]byte, count)
		if _, err := io.ReadFull(rw, types); err != nil {
			return nil, err
		}
		if !bytes.Contains(types, []byte{securityNone}) {
			return nil, fmt.Errorf("capture does not offer security None (offers %v)", types)
		}
		if _, err := rw.Write([]byte{securityNone}); err != nil {
			return nil, err
		}
		if v == v38 {
			var result uint32
			if err := binary.Read(rw, binary.BigEndian, &result); err != nil {
				return nil, err
			}
			if result != resultOK {
				return nil, fmt.Errorf("capture security failed: %s", readReason(rw))
			}
		}
	}

	// ClientInit: always shared, the capture server sees one client per viewer.
	if _, err := rw.Write([]byte{1}); err != nil {
		return nil, err
	}
	return readServerInit(rw)
}

func readServerInit(r io.Reader) (*serverInit, error) {
	head := make([]byte, 24)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("reading ServerInit: %w", err)
	}
	nameLen := binary.BigEndian.Uint32(head[20:24])
	if nameLen > 1<<16 {
		return nil, fmt.Errorf("ServerInit name too long (%d)", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading ServerInit name: %w", err)
	}
	return &serverInit{
		raw:    append(head, name...),
		width:  binary.BigEndian.Uint16(head[0:2]),
		height: binary.BigEndian.Uint16(head[2:4]),
		name:   string(name),
	}, nil
}

// message is one framed viewer-to-server message.
type message struct {
	kind uint8
	raw  []byte
}

// isInput reports whether the message drives the browser.
func (m message) isInput() bool {
	switch m.kind {
	case msgKeyEvent, msgPointerEvent, msgClientCutText, msgSetDesktopSize:
		return true
	}
	return false
}

// readMessage frames the next viewer message without interpreting pixel data.
func readMessage(r io.Reader) (message, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return message{}, err
	}

	var fixed int
	switch kind[0] {
	case msgSetPixelFormat:
		fixed = 20
	case msgSetEncodings:
		return readCounted(r, kind[0], 4, 2, 4)
	case msgFramebufferUpdateRequest:
		fixed = 10
	case msgKeyEvent:
		fixed = 8
	case msgPointerEvent:
		fixed = 6
	case msgClientCutText:
		return readCounted(r, kind[0], 8, 4, 1)
	case msgEnableContinuousUpdates:
		fixed = 10
	case msgSetDesktopSize:
		return readCounted(r, kind[0], 8, 6, 16)
	default:
		return message{}, fmt.Errorf("unsupported client message type %d", kind[0])
	}

	raw := make([]byte, fixed)
	raw[0] = kind[0]
	if _, err := io.ReadFull(r, raw[1:]); err != nil {
		return message{}, err
	}
	return message{kind: kind[0], raw: raw}, nil
}

// readCounted reads a message with a header of headerLen bytes whose count
// field sits at countOffset (u16 for SetEncodings, u32 for ClientCutText, u8
// for SetDesktopSize), followed by count*unit bytes.
func readCounted(r io.Reader, kind uint8, headerLen, countOffset, unit int) (message, error) {
	head := make([]byte, headerLen)
	head[0] = kind
	if _, err := io.ReadFull(r, head[1:]); err != nil {
		return message{}, err
	}

	var count int
	switch kind {
	case msgSetEncodings:
		count = int(binary.BigEndian.Uint16(head[countOffset:]))
	case msgClientCutText:
		// Negative lengths signal the extended clipboard format.
		n := int64(int32(binary.BigEndian.Uint32(head[countOffset:])))
		if n < 0 {
			n = -n
		}
		if n > maxCutText {
			return message{}, fmt.Errorf("client message type %d too large (%d bytes)", kind, n)
		}
		count = int(n)
	default:
		count = int(head[countOffset])
	}

	size := count * unit
	if size < 0 || size > maxCutText {
		return message{}, fmt.Errorf("client message type %d too large (%d bytes)", kind, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return message{}, err
	}
	return message{kind: kind, raw: append(head, body...)}, nil
}
