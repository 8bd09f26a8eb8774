package framebuffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    version
		wantErr bool
	}{
		{in: "RFB 003.008\n", want: v38},
		{in: "RFB 003.007\n", want: v37},
		{in: "RFB 003.003\n", want: v33},
		{in: "RFB 003.005\n", want: v33},
		{in: "RFB 003.889\n", want: v38},
		{in: "RFB 004.001\n", wantErr: true},
		{in: "RFB 003.002\n", wantErr: true},
		{in: "HTTP/1.1 200", wantErr: true},
		{in: "RFB 003.008", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseVersion([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, errUnsupportedVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyResponse(t *testing.T) {
	challenge := bytes.Repeat([]byte{0xA5, 0x3C}, challengeSize/2)
	secret := "s3cr3tpw"
	good := vncResponse(secret, challenge)

	assert.True(t, verifyResponse(secret, challenge, good))
	assert.Len(t, good, challengeSize)

	// Only the first eight bytes of a secret take part in VNC authentication.
	assert.True(t, verifyResponse(secret, challenge, vncResponse(secret+"-ignored", challenge)))

	wrong := []string{
		"",
		"x",
		"s",
		"s3",
		"s3cr",
		"s3cr3t",
		"s3cr3tp",
		"s3cr3tpX",
		"S3cr3tpw",
	}
	for _, w := range wrong {
		t.Run("prefix "+w, func(t *testing.T) {
			assert.False(t, verifyResponse(secret, challenge, vncResponse(w, challenge)))
		})
	}

	assert.False(t, verifyResponse(secret, challenge, good[:8]), "short responses never match")
}

func TestVNCResponseVariesWithChallenge(t *testing.T) {
	a := vncResponse("pw", make([]byte, challengeSize))
	b := vncResponse("pw", bytes.Repeat([]byte{1}, challengeSize))
	assert.NotEqual(t, a, b)
}

func TestReadMessageFraming(t *testing.T) {
	setEncodings := []byte{msgSetEncodings, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 7}
	cutText := append([]byte{msgClientCutText, 0, 0, 0, 0, 0, 0, 5}, "hello"...)
	desktop := append([]byte{msgSetDesktopSize, 0, 0x07, 0x80, 0x04, 0x38, 1, 0}, make([]byte, 16)...)

	tests := []struct {
		name  string
		raw   []byte
		input bool
	}{
		{name: "set pixel format", raw: append([]byte{msgSetPixelFormat}, make([]byte, 19)...)},
		{name: "set encodings", raw: setEncodings},
		{name: "update request", raw: append([]byte{msgFramebufferUpdateRequest}, make([]byte, 9)...)},
		{name: "key event", raw: []byte{msgKeyEvent, 1, 0, 0, 0, 0, 0, 0x61}, input: true},
		{name: "pointer event", raw: []byte{msgPointerEvent, 1, 0, 10, 0, 20}, input: true},
		{name: "cut text", raw: cutText, input: true},
		{name: "continuous updates", raw: append([]byte{msgEnableContinuousUpdates}, make([]byte, 9)...)},
		{name: "set desktop size", raw: desktop, input: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trailer := []byte{msgPointerEvent, 0, 0, 1, 0, 1}
			r := bytes.NewReader(append(append([]byte{}, tt.raw...), trailer...))

			msg, err := readMessage(r)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, msg.raw)
			assert.Equal(t, tt.input, msg.isInput())

			next, err := readMessage(r)
			require.NoError(t, err, "framing must leave the stream aligned")
			assert.Equal(t, trailer, next.raw)
		})
	}
}

func TestReadMessageRejectsUnknownType(t *testing.T) {
	_, err := readMessage(bytes.NewReader([]byte{99, 0, 0}))
	assert.Error(t, err)

	_, err = readMessage(bytes.NewReader([]byte{msgKeyEvent, 1}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadMessageCutTextLength(t *testing.T) {
	cutText := func(length uint32, body []byte) []byte {
		raw := []byte{msgClientCutText, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(raw[4:], length)
		return append(raw, body...)
	}

	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
	}{
		{name: "extended format", raw: cutText(0xFFFFFFFB, []byte("hello"))},
		{name: "most negative length", raw: cutText(0x80000000, nil), wantErr: true},
		{name: "largest positive length", raw: cutText(0x7FFFFFFF, nil), wantErr: true},
		{name: "just over limit", raw: cutText(maxCutText+1, nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				msg message
				err error
			)
			require.NotPanics(t, func() { msg, err = readMessage(bytes.NewReader(tt.raw)) })
			if tt.wantErr {
				assert.ErrorContains(t, err, "too large")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.raw, msg.raw)
		})
	}
}

func TestDialHandshakeVersions(t *testing.T) {
	for _, banner := range []string{"RFB 003.003\n", "RFB 003.007\n", "RFB 003.008\n"} {
		t.Run(banner[:11], func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			go fakeCaptureHandshake(server, banner, 800, 600, "capture")

			si, err := dialHandshake(client)
			require.NoError(t, err)
			assert.Equal(t, uint16(800), si.width)
			assert.Equal(t, uint16(600), si.height)
			assert.Equal(t, "capture", si.name)
			assert.Len(t, si.raw, 24+len("capture"))
		})
	}
}

func TestDialHandshakeRequiresNoAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("RFB 003.008\n"))
		io.ReadFull(server, make([]byte, 12))
		server.Write([]byte{1, securityVNCAuth})
	}()

	_, err := dialHandshake(client)
	assert.ErrorContains(t, err, "security None")
}

// fakeCaptureHandshake plays the capture server's side of the handshake.
func fakeCaptureHandshake(conn net.Conn, banner string, width, height uint16, name string) error {
	if _, err := conn.Write([]byte(banner)); err != nil {
		return err
	}
	if _, err := io.ReadFull(conn, make([]byte, 12)); err != nil {
		return err
	}
	switch banner {
	case "RFB 003.003\n":
		binary.Write(conn, binary.BigEndian, uint32(securityNone))
	default:
		conn.Write([]byte{1, securityNone})
		if _, err := io.ReadFull(conn, make([]byte, 1)); err != nil {
			return err
		}
		if banner == "RFB 003.008\n" {
			binary.Write(conn, binary.BigEndian, resultOK)
		}
	}

	// ClientInit
	if _, err := io.ReadFull(conn, make([]byte, 1)); err != nil {
		return err
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, width)
	binary.Write(&buf, binary.BigEndian, height)
	buf.Write([]byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 16, 8, 0, 0, 0, 0})
	binary.Write(&buf, binary.BigEndian, uint32(len(name)))
	buf.WriteString(name)
	_, err := conn.Write(buf.Bytes())
	return err
}
