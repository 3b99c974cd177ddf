package quotaledger

import (
	"hash/fnv"
	"sync"
)

// subjectLocks serializes charge operations per subject with a fixed set of
// striped mutexes. Two subjects hashing to different stripes proceed fully
// in parallel; the read-valid-grants-then-increment window for one subject
// is never interleaved with another charge for the same subject in this
// process. Cross-process safety is the store's job via conditional
// increments.
type subjectLocks struct {
	stripes []sync.Mutex
}

func newSubjectLocks(n int) *subjectLocks {
	if n <= 0 {
		n = 64
	}
	return &subjectLocks{stripes: make([]sync.Mutex, n)}
}

func (l *subjectLocks) lock(subjectID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m
}
