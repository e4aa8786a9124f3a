package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/k9dev/scout-agent/internal/fields"
)

func pipeConnections(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a, b := net.Pipe()
	ca := &Connection{conn: a}
	cb := &Connection{conn: b}
	t.Cleanup(func() {
		ca.Reset()
		cb.Reset()
	})
	return ca, cb
}

func TestSendRecvFieldsPlaintextLoopback(t *testing.T) {
	t.Parallel()

	client, server := pipeConnections(t)

	fs := fields.Fields{fields.Int(1), fields.Text("hello")}

	done := make(chan error, 1)
	go func() {
		done <- client.SendFields(fs)
	}()

	got, err := server.RecvFields()
	if err != nil {
		t.Fatalf("RecvFields() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFields() error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("RecvFields() returned %d fields, want 2", len(got))
	}
}

func TestSendRecvFieldsEncryptedLoopback(t *testing.T) {
	t.Parallel()

	client, server := pipeConnections(t)

	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i + 1)
	}

	for _, c := range []*Connection{client, server} {
		c.SetSessionKey(key)
		c.SetIV(iv)
		if err := c.EnableEncryption(); err != nil {
			t.Fatalf("EnableEncryption() error: %v", err)
		}
	}

	fs := fields.Fields{fields.Raw([]byte("secret payload"))}

	done := make(chan error, 1)
	go func() {
		done <- client.SendFields(fs)
	}()

	got, err := server.RecvFields()
	if err != nil {
		t.Fatalf("RecvFields() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFields() error: %v", err)
	}

	if string(got[0].Value) != "secret payload" {
		t.Errorf("decrypted payload = %q, want %q", got[0].Value, "secret payload")
	}
}

func TestEnableEncryptionWithoutKeyFails(t *testing.T) {
	t.Parallel()

	c := New()
	if err := c.EnableEncryption(); err == nil {
		t.Fatal("EnableEncryption() without a key/IV returned nil error")
	}
}

func TestResetIsIdempotentOnUnconnected(t *testing.T) {
	t.Parallel()

	c := New()
	c.Reset()
	if c.IsConnected() {
		t.Error("IsConnected() true after Reset on a never-connected Connection")
	}
}

func TestResetClearsEncryptionState(t *testing.T) {
	t.Parallel()

	client, _ := pipeConnections(t)
	client.SetSessionKey(make([]byte, KeySize))
	client.SetIV(make([]byte, IVSize))
	if err := client.EnableEncryption(); err != nil {
		t.Fatalf("EnableEncryption() error: %v", err)
	}

	client.Reset()

	if client.IsConnected() {
		t.Error("IsConnected() true after Reset")
	}
	if err := client.EnableEncryption(); err == nil {
		t.Error("EnableEncryption() succeeded after Reset cleared the key/IV")
	}
}

func TestRecvFieldsNonBlockingNoDataReturnsNilNil(t *testing.T) {
	t.Parallel()

	_, server := pipeConnections(t)

	fs, err := server.RecvFieldsNonBlocking()
	if err != nil {
		t.Fatalf("RecvFieldsNonBlocking() error: %v, want nil", err)
	}
	if fs != nil {
		t.Errorf("RecvFieldsNonBlocking() = %v, want nil", fs)
	}
}

func TestRecvFieldsNonBlockingSurfacesDecodeErrorAndUnwedges(t *testing.T) {
	t.Parallel()

	client, server := pipeConnections(t)

	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i + 1)
	}
	for _, c := range []*Connection{client, server} {
		c.SetSessionKey(key)
		c.SetIV(iv)
		if err := c.EnableEncryption(); err != nil {
			t.Fatalf("EnableEncryption() error: %v", err)
		}
	}

	// A ciphertext block of garbage, framed like a real message, decrypts
	// to invalid PKCS#7 padding almost certainly.
	corrupt := make([]byte, 32)
	for i := range corrupt {
		corrupt[i] = byte(0xAA ^ i)
	}
	frame := make([]byte, 8+len(corrupt))
	binary.BigEndian.PutUint64(frame[:8], uint64(len(corrupt)))
	copy(frame[8:], corrupt)

	done := make(chan error, 1)
	go func() {
		_, err := client.conn.Write(frame)
		done <- err
	}()

	var lastErr error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs, err := server.RecvFieldsNonBlocking()
		if err != nil {
			lastErr = err
			break
		}
		if fs != nil {
			t.Fatalf("RecvFieldsNonBlocking() decoded a corrupt frame as %v", fs)
		}
	}
	if lastErr == nil {
		t.Fatal("RecvFieldsNonBlocking() never surfaced an error for a corrupt frame")
	}
	if err := <-done; err != nil {
		t.Fatalf("write corrupt frame: %v", err)
	}

	// The corrupt frame's bytes must have been dropped from the spill
	// buffer, not retried forever: a subsequent well-formed frame must
	// still decode.
	fs := fields.Fields{fields.Text("recovered")}
	go func() {
		_ = client.SendFields(fs)
	}()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := server.RecvFieldsNonBlocking()
		if err != nil {
			t.Fatalf("RecvFieldsNonBlocking() error after recovery: %v", err)
		}
		if got != nil {
			if string(got[0].Value) != "recovered" {
				t.Errorf("recovered frame = %q, want %q", got[0].Value, "recovered")
			}
			return
		}
	}
	t.Fatal("connection stayed wedged after the corrupt frame")
}

func TestRecvFieldsNonBlockingAccumulatesAcrossCalls(t *testing.T) {
	t.Parallel()

	client, server := pipeConnections(t)

	go func() {
		_ = client.SendFields(fields.Fields{fields.Text("chunked")})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs, err := server.RecvFieldsNonBlocking()
		if err != nil {
			t.Fatalf("RecvFieldsNonBlocking() error: %v", err)
		}
		if fs != nil {
			if len(fs) != 1 {
				t.Fatalf("RecvFieldsNonBlocking() returned %d fields, want 1", len(fs))
			}
			return
		}
	}
	t.Fatal("RecvFieldsNonBlocking() never observed the sent frame")
}
