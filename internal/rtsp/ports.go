package rtsp

import "sync/atomic"

const (
	DefaultPortBase = 30000

	// portStride reserves video RTP/RTCP and audio RTP/RTCP per session.
	portStride = 4
	maxPort    = 65535
)

// PortAllocator hands out blocks of four consecutive UDP ports starting at an
// even base. Blocks are issued round robin over the range above the base.
type PortAllocator struct {
	base   int
	blocks uint64
	next   uint64
}

func NewPortAllocator(base int) *PortAllocator {
	if base <= 0 || base > maxPort-portStride {
		base = DefaultPortBase
	}
	if base%2 != 0 {
		base++
	}
	return &PortAllocator{
		base:   base,
		blocks: uint64((maxPort + 1 - base) / portStride),
	}
}

// Next returns the first port of the next block. It is always even.
func (a *PortAllocator) Next() int {
	k := atomic.AddUint64(&a.next, 1) - 1
	return a.base + int(k%a.blocks)*portStride
}

// Blocks is the number of distinct blocks before the allocator wraps.
func (a *PortAllocator) Blocks() int {
	return int(a.blocks)
}
