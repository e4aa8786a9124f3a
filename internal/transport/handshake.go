package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/k9dev/scout-agent/internal/fields"
)

// kdfSuffix is appended to the raw DH shared secret before hashing. It is
// not a secret — per spec §9 open question (b), MITM resistance after the
// unauthenticated DH exchange relies entirely on this fixed string, which
// is a known limitation rather than a real authentication mechanism.
const kdfSuffix = "SpearIT-K9Dev"

// ReplayWindow bounds how stale a server timestamp may be before the
// handshake is rejected (§4.3, superseding the 2s window of an earlier
// implementation per the redesign notes).
const ReplayWindow = 5 * time.Second

// Sentinel errors for handshake failures.
var (
	ErrHandshakeBadFieldCount = errors.New("transport: handshake message has wrong field count")
	ErrHandshakeBadKeySize    = errors.New("transport: handshake key/IV has wrong size")
	ErrHandshakeReplay        = errors.New("transport: server timestamp outside replay window")
)

// handshakeChannel is the slice of Connection's behavior ClientHandshake
// needs. Depending on the interface instead of *Connection lets callers
// substitute a fake channel in tests.
type handshakeChannel interface {
	SendFields(fs fields.Fields) error
	RecvFields() (fields.Fields, error)
	SetSessionKey(key []byte)
	SetIV(iv []byte)
	EnableEncryption() error
}

// ClientHandshake runs the client side of the X25519 handshake over conn
// and leaves conn with encryption enabled on success.
//
//  1. Receive Raw(iv[16]) Raw(pub[32]) from the server.
//  2. Generate an ephemeral X25519 key pair; send Raw(pub[32]).
//  3. Derive the session key as SHA-256(shared || kdfSuffix)[:16]; enable encryption.
//  4. Receive Raw(ts_be[8]); reject if now-ts > ReplayWindow.
//  5. Send Raw(ts_be[8]) of the current time.
func ClientHandshake(c handshakeChannel, now func() time.Time) error {
	step1, err := c.RecvFields()
	if err != nil {
		return fmt.Errorf("handshake step 1 recv: %w", err)
	}
	if len(step1) != 2 {
		return ErrHandshakeBadFieldCount
	}
	cur := fields.NewCursor(step1)
	iv, err := cur.ConsumeRaw()
	if err != nil {
		return fmt.Errorf("handshake step 1 iv: %w", err)
	}
	serverPub, err := cur.ConsumeRaw()
	if err != nil {
		return fmt.Errorf("handshake step 1 server pub: %w", err)
	}
	if len(iv) != IVSize || len(serverPub) != curve25519.PointSize {
		return ErrHandshakeBadKeySize
	}

	clientPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(clientPriv); err != nil {
		return fmt.Errorf("generate ephemeral key: %w", err)
	}
	clientPub, err := curve25519.X25519(clientPriv, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("derive client public key: %w", err)
	}

	if err := c.SendFields(fields.Fields{fields.Raw(clientPub)}); err != nil {
		return fmt.Errorf("handshake step 2 send: %w", err)
	}

	shared, err := curve25519.X25519(clientPriv, serverPub)
	if err != nil {
		return fmt.Errorf("compute shared secret: %w", err)
	}

	sum := sha256.Sum256(append(append([]byte(nil), shared...), kdfSuffix...))
	sessionKey := sum[:KeySize]

	c.SetSessionKey(sessionKey)
	c.SetIV(iv)
	if err := c.EnableEncryption(); err != nil {
		return fmt.Errorf("enable encryption: %w", err)
	}

	step4, err := c.RecvFields()
	if err != nil {
		return fmt.Errorf("handshake step 4 recv: %w", err)
	}
	if len(step4) != 1 {
		return ErrHandshakeBadFieldCount
	}
	tsCur := fields.NewCursor(step4)
	tsRaw, err := tsCur.ConsumeRaw()
	if err != nil {
		return fmt.Errorf("handshake step 4 timestamp: %w", err)
	}
	if len(tsRaw) != 8 {
		return ErrHandshakeBadKeySize
	}
	serverTS := time.Unix(int64(binary.BigEndian.Uint64(tsRaw)), 0)

	nowFn := now
	if nowFn == nil {
		nowFn = time.Now
	}
	clientNow := nowFn()
	if clientNow.Sub(serverTS) > ReplayWindow {
		return ErrHandshakeReplay
	}

	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(clientNow.Unix()))
	if err := c.SendFields(fields.Fields{fields.Raw(tsBuf)}); err != nil {
		return fmt.Errorf("handshake step 5 send: %w", err)
	}

	return nil
}
