package admission

import "sync/atomic"

// Gate closes admission once shutdown starts. In-flight work is unaffected.
type Gate struct {
	closed atomic.Bool
}

// Close marks the gate closed and reports whether this call closed it.
func (g *Gate) Close() bool {
	return g.closed.CompareAndSwap(false, true)
}

func (g *Gate) Closed() bool {
	return g.closed.Load()
}
