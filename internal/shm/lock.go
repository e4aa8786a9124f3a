package shm

import (
	"encoding/binary"
	"errors"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// lockSize is the byte width reserved for the robust-mutex substitute within
// a SharedComms record: a 4-byte owner pid plus a 4-byte generation counter.
const lockSize = 8

// ErrLockTimeout is returned when a lock cannot be acquired within the
// bounded retry budget, including after attempting owner-liveness recovery.
var ErrLockTimeout = errors.New("shm: lock acquisition timed out")

const (
	lockAttempts = 500
	lockBackoff  = time.Millisecond
)

// robustLock treats an 8-byte slot of a mmap'd region as {ownerPID int32,
// generation uint32}, manipulated with atomic compare-and-swap over the raw
// int64 view. A zero value means unlocked. If the current holder's pid is no
// longer alive (unix.Kill(pid, 0) reports ESRCH), the lock is force-stolen —
// this is the substitute for glibc's PTHREAD_MUTEX_ROBUST "owned-dead"
// recovery, which Go has no cgo-free binding for.
type robustLock struct {
	word *int64
}

func newRobustLock(region *Region, offset int) *robustLock {
	return &robustLock{word: (*int64)(unsafe.Pointer(&region.data[offset]))}
}

func encodeLockWord(pid int32, generation uint32) int64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
	binary.LittleEndian.PutUint32(buf[4:8], generation)
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func decodeLockWord(v int64) (pid int32, generation uint32) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	pid = int32(binary.LittleEndian.Uint32(buf[0:4]))
	generation = binary.LittleEndian.Uint32(buf[4:8])
	return pid, generation
}

// lock acquires the mutex, recovering ownership from a dead holder if found.
func (l *robustLock) lock() error {
	self := int32(os.Getpid())

	for attempt := 0; attempt < lockAttempts; attempt++ {
		cur := atomic.LoadInt64(l.word)
		pid, gen := decodeLockWord(cur)

		if pid == 0 {
			want := encodeLockWord(self, gen+1)
			if atomic.CompareAndSwapInt64(l.word, cur, want) {
				return nil
			}
			continue
		}

		if pid == self {
			return nil
		}

		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			want := encodeLockWord(self, gen+1)
			if atomic.CompareAndSwapInt64(l.word, cur, want) {
				return nil
			}
			continue
		}

		time.Sleep(lockBackoff)
	}

	return ErrLockTimeout
}

// unlock releases the mutex, bumping the generation so a stale CAS by a
// racing acquirer cannot resurrect the old owner's value.
func (l *robustLock) unlock() {
	cur := atomic.LoadInt64(l.word)
	_, gen := decodeLockWord(cur)
	atomic.StoreInt64(l.word, encodeLockWord(0, gen+1))
}
