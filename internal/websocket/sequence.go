package websocket

import (
	"sync"
	"sync/atomic"
)

// sequencer hands out a gapless counter per topic so clients can detect
// dropped messages.
type sequencer struct {
	seqs sync.Map // topic -> *uint64
}

func (s *sequencer) next(topic string) uint64 {
	v, _ := s.seqs.LoadOrStore(topic, new(uint64))
	return atomic.AddUint64(v.(*uint64), 1)
}
