package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/k9dev/scout-agent/internal/fields"
)

// fakeServerHandshake drives the server side of ClientHandshake over conn,
// sending serverTS as its timestamp in step 4, and returns the negotiated
// session key so the caller can verify both sides agree.
func fakeServerHandshake(t *testing.T, conn net.Conn, serverTS time.Time) []byte {
	t.Helper()

	sc := &Connection{conn: conn}

	serverPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(serverPriv); err != nil {
		t.Fatalf("rand server priv: %v", err)
	}
	serverPub, err := curve25519.X25519(serverPriv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("derive server pub: %v", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand iv: %v", err)
	}

	if err := sc.SendFields(fields.Fields{fields.Raw(iv), fields.Raw(serverPub)}); err != nil {
		t.Fatalf("server send step1: %v", err)
	}

	step2, err := sc.RecvFields()
	if err != nil {
		t.Fatalf("server recv step2: %v", err)
	}
	cur := fields.NewCursor(step2)
	clientPub, err := cur.ConsumeRaw()
	if err != nil {
		t.Fatalf("server read client pub: %v", err)
	}

	shared, err := curve25519.X25519(serverPriv, clientPub)
	if err != nil {
		t.Fatalf("server shared secret: %v", err)
	}
	sum := sha256.Sum256(append(append([]byte(nil), shared...), kdfSuffix...))
	sessionKey := sum[:KeySize]

	sc.SetSessionKey(sessionKey)
	sc.SetIV(iv)
	if err := sc.EnableEncryption(); err != nil {
		t.Fatalf("server enable encryption: %v", err)
	}

	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(serverTS.Unix()))
	if err := sc.SendFields(fields.Fields{fields.Raw(tsBuf)}); err != nil {
		t.Fatalf("server send step4: %v", err)
	}

	if _, err := sc.RecvFields(); err != nil {
		t.Fatalf("server recv step5: %v", err)
	}

	return sessionKey
}

func TestClientHandshakeSucceedsWithFreshTimestamp(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := &Connection{conn: clientConn}

	fixedNow := time.Unix(1_700_000_000, 0)
	serverTS := fixedNow.Add(-2 * time.Second)

	serverKey := make(chan []byte, 1)
	go func() {
		serverKey <- fakeServerHandshake(t, serverConn, serverTS)
	}()

	err := ClientHandshake(client, func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("ClientHandshake() error = %v, want nil", err)
	}

	if !client.encrypted {
		t.Error("ClientHandshake() left the connection unencrypted")
	}
	got := <-serverKey
	if string(got) != string(client.key) {
		t.Error("client and server disagree on the derived session key")
	}
}

func TestClientHandshakeFailsWithStaleTimestamp(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := &Connection{conn: clientConn}

	fixedNow := time.Unix(1_700_000_000, 0)
	serverTS := fixedNow.Add(-10 * time.Second)

	go fakeServerHandshake(t, serverConn, serverTS)

	err := ClientHandshake(client, func() time.Time { return fixedNow })
	if err == nil {
		t.Fatal("ClientHandshake() succeeded with a 10s-stale server timestamp, want ErrHandshakeReplay")
	}
}

func TestClientHandshakeBadFieldCountStep1(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := &Connection{conn: clientConn}
	sc := &Connection{conn: serverConn}

	go func() {
		_ = sc.SendFields(fields.Fields{fields.Int(1)})
	}()

	if err := ClientHandshake(client, nil); err == nil {
		t.Fatal("ClientHandshake() succeeded with a malformed step-1 message")
	}
}
