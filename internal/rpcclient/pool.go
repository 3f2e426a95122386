package rpcclient

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Pool multiplexes N concurrent connections to the same daemon address,
// used by the sync pipeline to parallelize media downloads (spec.md §4.3
// "A pool variant opens and multiplexes N concurrent connections for
// parallel downloads").
type Pool struct {
	clients []*Client
	next    atomic.Uint64
}

// DialPool opens size connections to addr.
func DialPool(ctx context.Context, addr string, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{clients: make([]*Client, 0, size)}
	for i := 0; i < size; i++ {
		c, err := Dial(ctx, addr)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("dial pool connection %d/%d: %w", i+1, size, err)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

// Get returns the next connection in round-robin order.
func (p *Pool) Get() *Client {
	i := p.next.Add(1) - 1
	return p.clients[i%uint64(len(p.clients))]
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	return len(p.clients)
}

func (p *Pool) Close() error {
	var first error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
