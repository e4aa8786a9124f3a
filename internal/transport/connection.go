// Package transport implements SecureChannel: framed field I/O over a TCP
// socket to Spearhead, optionally encrypted under AES-128-CBC/PKCS#7, plus
// the client-side X25519 handshake that negotiates the session key.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/k9dev/scout-agent/internal/fields"
)

// NonBlockingReadTimeout is the read deadline used by RecvFieldsNonBlocking.
const NonBlockingReadTimeout = 5 * time.Millisecond

// Sentinel errors.
var (
	// ErrNotConnected indicates an operation was attempted with no socket installed.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrEncryptionNotReady indicates EnableEncryption was called before a
	// session key and IV were installed.
	ErrEncryptionNotReady = errors.New("transport: session key/IV not set")
)

// Connection owns a TCP socket (possibly absent), the encrypted-mode
// session key/IV, and a non-blocking receive spill buffer. Encrypt mode may
// be enabled only after both the session key and IV are installed;
// disconnect always clears the spill buffer.
type Connection struct {
	conn      net.Conn
	key       []byte
	iv        []byte
	encrypted bool
	spill     []byte
}

// New returns a disconnected Connection.
func New() *Connection {
	return &Connection{}
}

// Connect dials addr over TCP.
func (c *Connection) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn
	return nil
}

// Reset drops the socket and clears the key, IV, encryption mode and spill
// buffer. It is a no-op on an already-disconnected Connection (§8 property 8).
func (c *Connection) Reset() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.key = nil
	c.iv = nil
	c.encrypted = false
	c.spill = nil
}

// IsConnected reports whether the socket is installed and its peer address
// can still be queried.
func (c *Connection) IsConnected() bool {
	if c.conn == nil {
		return false
	}
	return c.conn.RemoteAddr() != nil
}

// SetSessionKey installs the 16-byte AES-128 session key.
func (c *Connection) SetSessionKey(key []byte) {
	c.key = append([]byte(nil), key...)
}

// SetIV installs the 16-byte CBC initialization vector.
func (c *Connection) SetIV(iv []byte) {
	c.iv = append([]byte(nil), iv...)
}

// EnableEncryption turns on AES-128-CBC framing. Fails if the session key
// or IV has not been installed.
func (c *Connection) EnableEncryption() error {
	if len(c.key) != KeySize || len(c.iv) != IVSize {
		return ErrEncryptionNotReady
	}
	c.encrypted = true
	return nil
}

// DisableEncryption turns off AES-128-CBC framing without clearing the
// installed key/IV.
func (c *Connection) DisableEncryption() {
	c.encrypted = false
}

// SendFields encodes fs, encrypts it if encryption is enabled, frames it
// with an 8-byte big-endian length, and writes it to the socket.
func (c *Connection) SendFields(fs fields.Fields) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	body := fields.EncodeNoLength(fs)

	if c.encrypted {
		ct, err := encryptAESCBC(c.key, c.iv, body)
		if err != nil {
			return fmt.Errorf("encrypt outgoing fields: %w", err)
		}
		body = ct
	}

	frame := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(frame[:8], uint64(len(body)))
	copy(frame[8:], body)

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// RecvFields blocks until a full frame has been read, decrypting and
// decoding it into Fields.
func (c *Connection) RecvFields() (fields.Fields, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	lenBuf := make([]byte, 8)
	if _, err := io.ReadFull(c.conn, lenBuf); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf)

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return c.decodeFrame(payload)
}

func (c *Connection) decodeFrame(payload []byte) (fields.Fields, error) {
	if c.encrypted {
		pt, err := decryptAESCBC(c.key, c.iv, payload)
		if err != nil {
			return nil, fmt.Errorf("decrypt frame: %w", err)
		}
		payload = pt
	}
	fs, err := fields.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return fs, nil
}

// RecvFieldsNonBlocking attempts to complete a frame within
// NonBlockingReadTimeout, accumulating partial reads across calls in a
// spill buffer. It returns (nil, nil) on timeout or WouldBlock — the Agent
// treats the absence of data as a non-error, not a failure. A frame that
// fails to decode (bad padding, malformed field encoding) is a real error:
// its bytes are dropped from the spill buffer and the error is returned, so
// a corrupt frame never wedges the connection. The socket's read deadline
// is always restored before returning.
func (c *Connection) RecvFieldsNonBlocking() (fields.Fields, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(NonBlockingReadTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 4096)
	for {
		need := c.spillNeedsMore()
		if need == 0 {
			break
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.spill = append(c.spill, buf[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				break
			}
			return nil, fmt.Errorf("non-blocking read: %w", err)
		}
	}

	fs, consumed, err := c.tryDecodeSpill()
	c.spill = c.spill[consumed:]
	if err != nil {
		return nil, fmt.Errorf("decode buffered frame: %w", err)
	}
	if fs == nil {
		return nil, nil
	}
	return fs, nil
}

// spillNeedsMore reports how many more bytes (at minimum 1) would help
// progress the spill buffer toward a complete frame. It returns 0 only when
// a full frame is already buffered.
func (c *Connection) spillNeedsMore() int {
	if len(c.spill) < 8 {
		return 8 - len(c.spill)
	}
	total := binary.BigEndian.Uint64(c.spill[:8])
	have := uint64(len(c.spill) - 8)
	if have >= total {
		return 0
	}
	return 1
}

// tryDecodeSpill attempts to decode a complete frame from the spill buffer.
// The returned consumed count must always be applied to c.spill, even on
// error: a corrupt frame's bytes must never be retried, or the connection
// wedges on it forever. (fields.Fields(nil), 0, nil) means no complete frame
// is buffered yet.
func (c *Connection) tryDecodeSpill() (fields.Fields, int, error) {
	if len(c.spill) < 8 {
		return nil, 0, nil
	}
	total := binary.BigEndian.Uint64(c.spill[:8])
	if uint64(len(c.spill)-8) < total {
		return nil, 0, nil
	}

	payload := c.spill[8 : 8+total]
	fs, err := c.decodeFrame(payload)
	if err != nil {
		return nil, int(8 + total), err
	}
	return fs, int(8 + total), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
