package consumers

import (
	"hash/fnv"
	"sync"
)

const defaultLanes = 8

// Partitioner serialises work per key across a fixed set of lanes. Two keys
// may share a lane; one key never runs on two lanes at once.
type Partitioner struct {
	lanes []sync.Mutex
}

func NewPartitioner(lanes int) *Partitioner {
	if lanes <= 0 {
		lanes = defaultLanes
	}
	return &Partitioner{lanes: make([]sync.Mutex, lanes)}
}

// Lane returns the lane index for key.
func (p *Partitioner) Lane(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// Do runs fn while holding key's lane.
func (p *Partitioner) Do(key string, fn func() error) error {
	lane := &p.lanes[p.Lane(key)]
	lane.Lock()
	defer lane.Unlock()
	return fn()
}
