package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// DataCapacity is the fixed size of a SharedComms record's data buffer.
const DataCapacity = 4096

// Record field offsets within a SharedComms region, matching the wire
// layout { key u64; lock mutex_t; current_conversation_id u32; request_id
// u32; size u64; data[4096] } byte-for-byte against the loader's expected
// C struct.
const (
	offsetKey            = 0
	offsetLock           = offsetKey + 8
	offsetConversationID = offsetLock + lockSize
	offsetRequestID      = offsetConversationID + 4
	offsetSize           = offsetRequestID + 4
	offsetData           = offsetSize + 8
	recordSize           = offsetData + DataCapacity
)

const (
	// WrapperKey is the sentinel the agent writes into its output region.
	WrapperKey uint64 = 0xDEADBEEFC0DEFACE
	// LoaderKey is the sentinel the loader is expected to write into its
	// output region, which is the agent's input region.
	LoaderKey uint64 = 0xCAFEBABEFACEFEED

	// PollInterval is the handshake polling cadence.
	PollInterval = 200 * time.Millisecond

	wrapperRegionName = "scout_shared_memory_wrapper_write"
	loaderRegionName  = "scout_shared_memory_loader_write"
)

// ErrHandshakeAborted is returned when the loader handshake is cancelled
// before the loader's key sentinel appears.
var ErrHandshakeAborted = errors.New("shm: handshake aborted before loader key observed")

// Snapshot is a point-in-time copy of a SharedComms record.
type Snapshot struct {
	Key            uint64
	ConversationID uint32
	RequestID      CommID
	Size           uint64
	Data           [DataCapacity]byte
}

// Payload returns the live slice of Data actually populated by Size.
func (s *Snapshot) Payload() []byte {
	n := s.Size
	if n > DataCapacity {
		n = DataCapacity
	}
	return s.Data[:n]
}

// Channel is the pair of SharedComms regions the agent maintains with the
// loader: out is the agent's write side (loader's input), in is the
// agent's read side (loader's output).
type Channel struct {
	out *Region
	in  *Region

	outLock *robustLock
	inLock  *robustLock

	lastReadConversationID  uint32
	lastWriteConversationID uint32
}

// Open creates and maps both regions, zero-fills the output region, and
// runs the sentinel-key handshake: write WrapperKey into the output
// region's key field, then poll the input region's key field at
// PollInterval until it equals LoaderKey. abort, if non-nil, is checked
// between polls and causes ErrHandshakeAborted when closed.
func Open(abort <-chan struct{}) (*Channel, error) {
	out, err := openRegion(wrapperRegionName, recordSize)
	if err != nil {
		return nil, err
	}
	in, err := openRegion(loaderRegionName, recordSize)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	for i := range out.data {
		out.data[i] = 0
	}

	c := newChannelFromRegions(out, in)

	if err := c.handshake(abort); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// newChannelFromRegions wires a Channel around already-mapped regions.
func newChannelFromRegions(out, in *Region) *Channel {
	return &Channel{
		out:     out,
		in:      in,
		outLock: newRobustLock(out, offsetLock),
		inLock:  newRobustLock(in, offsetLock),
	}
}

// handshake writes WrapperKey into the output region's key field, then
// polls the input region's key field at PollInterval until it equals
// LoaderKey, or abort is closed.
func (c *Channel) handshake(abort <-chan struct{}) error {
	binary.LittleEndian.PutUint64(c.out.data[offsetKey:], WrapperKey)

	for {
		if binary.LittleEndian.Uint64(c.in.data[offsetKey:]) == LoaderKey {
			return nil
		}
		if abort != nil {
			select {
			case <-abort:
				return ErrHandshakeAborted
			case <-time.After(PollInterval):
			}
		} else {
			time.Sleep(PollInterval)
		}
	}
}

// Close unmaps both regions.
func (c *Channel) Close() error {
	errOut := c.out.Close()
	errIn := c.in.Close()
	if errOut != nil {
		return errOut
	}
	return errIn
}

// Read locks the input region, checks whether current_conversation_id
// satisfies expected (equal to *expected if non-nil, otherwise merely
// different from the last one observed), copies the record out if so, and
// unlocks. It returns (nil, nil) when nothing new is available.
func (c *Channel) Read(expected *uint32) (*Snapshot, error) {
	if err := c.inLock.lock(); err != nil {
		return nil, fmt.Errorf("shm: lock input region: %w", err)
	}
	defer c.inLock.unlock()

	convID := binary.LittleEndian.Uint32(c.in.data[offsetConversationID:])

	satisfied := false
	if expected != nil {
		satisfied = convID == *expected
	} else {
		satisfied = convID != c.lastReadConversationID
	}
	if !satisfied {
		return nil, nil
	}

	snap := &Snapshot{
		Key:            binary.LittleEndian.Uint64(c.in.data[offsetKey:]),
		ConversationID: convID,
		RequestID:      ParseCommID(binary.LittleEndian.Uint32(c.in.data[offsetRequestID:])),
		Size:           binary.LittleEndian.Uint64(c.in.data[offsetSize:]),
	}
	copy(snap.Data[:], c.in.data[offsetData:offsetData+DataCapacity])

	c.lastReadConversationID = convID
	return snap, nil
}

// Write locks the output region, sets current_conversation_id to
// *conversationID if provided or lastWriteConversationID+1 otherwise, sets
// request_id and the data payload (silently truncated above DataCapacity),
// and unlocks.
func (c *Channel) Write(requestID CommID, data []byte, conversationID *uint32) error {
	if err := c.outLock.lock(); err != nil {
		return fmt.Errorf("shm: lock output region: %w", err)
	}
	defer c.outLock.unlock()

	var convID uint32
	if conversationID != nil {
		convID = *conversationID
	} else {
		convID = c.lastWriteConversationID + 1
	}

	n := len(data)
	if n > DataCapacity {
		n = DataCapacity
	}

	binary.LittleEndian.PutUint32(c.out.data[offsetConversationID:], convID)
	binary.LittleEndian.PutUint32(c.out.data[offsetRequestID:], uint32(requestID))
	binary.LittleEndian.PutUint64(c.out.data[offsetSize:], uint64(n))
	copy(c.out.data[offsetData:offsetData+n], data[:n])

	c.lastWriteConversationID = convID
	return nil
}
