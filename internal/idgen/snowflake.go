// Package idgen mints 64-bit monotonically increasing IDs.
//
// Everything above this package depends only on domain.Snowflake's
// Next() contract, never on the bit layout below.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits)
	maxSequence     = -1 ^ (-1 << sequenceBits)

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampShift     = sequenceBits + workerIDBits + datacenterIDBits
)

// Snowflake generates IDs of the form
// [41-bit ms-since-epoch][5-bit datacenter][5-bit worker][12-bit sequence].
type Snowflake struct {
	mu sync.Mutex

	epochMillis  int64
	workerID     int64
	datacenterID int64

	lastMillis int64
	sequence   int64

	nowMillis func() int64
}

// New constructs a Snowflake generator. workerID and datacenterID must each
// fit in 5 bits (0-31).
func New(workerID, datacenterID, epochMillis int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("op=idgen.New: worker id %d out of range [0,%d]", workerID, maxWorkerID)
	}
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, fmt.Errorf("op=idgen.New: datacenter id %d out of range [0,%d]", datacenterID, maxDatacenterID)
	}
	return &Snowflake{
		epochMillis:  epochMillis,
		workerID:     workerID,
		datacenterID: datacenterID,
		lastMillis:   -1,
		nowMillis:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next returns the next ID. It blocks briefly only when the clock has
// moved backward or the 4096 sequence values of the current millisecond
// are used up, until the clock passes the last millisecond used.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	if now < s.lastMillis {
		// Clock moved backward; wait it out rather than risk a collision.
		for now < s.lastMillis {
			now = s.nowMillis()
		}
	}

	if now == s.lastMillis {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.lastMillis {
				now = s.nowMillis()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMillis = now

	return ((now - s.epochMillis) << timestampShift) |
		(s.datacenterID << datacenterIDShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}
