package agent

import (
	"github.com/k9dev/scout-agent/internal/fields"
	"github.com/k9dev/scout-agent/internal/shm"
)

// secureChannel abstracts the Spearhead connection so the control loop can
// be tested without a real TCP socket. *transport.Connection satisfies it.
type secureChannel interface {
	Connect(addr string) error
	Reset()
	IsConnected() bool
	SendFields(fs fields.Fields) error
	RecvFields() (fields.Fields, error)
	RecvFieldsNonBlocking() (fields.Fields, error)
	SetSessionKey(key []byte)
	SetIV(iv []byte)
	EnableEncryption() error
}

// shmChannel abstracts the loader shared-memory pair. *shm.Channel
// satisfies it.
type shmChannel interface {
	Read(expected *uint32) (*shm.Snapshot, error)
	Write(requestID shm.CommID, data []byte, conversationID *uint32) error
}
