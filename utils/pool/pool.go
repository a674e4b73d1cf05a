// Package pool provides a typed wrapper around sync.Pool that counts
// allocations caused by an empty pool.
package pool

import (
	"sync"

	"github.com/linchenxuan/netclient/metrics"
)

// Pool is a typed sync.Pool. Name is reported as the pool dimension.
type Pool[T any] struct {
	Name  string
	pool  sync.Pool
	reset func(T) T
}

// New creates a pool. newFunc builds an item when the pool is empty; reset,
// when non-nil, is applied on Put.
func New[T any](name string, newFunc func() T, reset func(T) T) *Pool[T] {
	p := &Pool[T]{Name: name, reset: reset}
	p.pool.New = func() any {
		metrics.IncrCounterWithDimGroup(metrics.NamePoolCreateTotal, metrics.GroupTransport, 1, metrics.Dimension{
			metrics.DimPoolName: name,
		})
		return newFunc()
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(x T) {
	if p.reset != nil {
		x = p.reset(x)
	}
	p.pool.Put(x)
}
