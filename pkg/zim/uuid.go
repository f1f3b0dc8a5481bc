package zim

import (
	"crypto/md5"
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq disambiguates seedless uuids generated within one clock tick.
var seq atomic.Uint64

// GenerateUUID derives a 128-bit archive identity from the MD5 of seed.
// An empty seed mixes the wall clock, the pid and a process-local
// sequence instead, giving a fresh identity per call. The uuid package renders it
// in the canonical 8-4-4-4-12 lowercase form.
func GenerateUUID(seed string) uuid.UUID {
	h := md5.New()
	if seed == "" {
		var buf [24]byte
		binary.LittleEndian.PutUint64(buf[0:], uint64(time.Now().UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], uint64(os.Getpid()))
		binary.LittleEndian.PutUint64(buf[16:], seq.Add(1))
		h.Write(buf[:])
	} else {
		h.Write([]byte(seed))
	}
	var u uuid.UUID
	copy(u[:], h.Sum(nil))
	return u
}
