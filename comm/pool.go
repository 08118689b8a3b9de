package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
//
// A pool of size one serializes every exchange on a shared link, which is what a
// daisy chain of controllers on a single serial line needs.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(leases)
	onLease int                     // number of connections given out
	timeout time.Duration           // time after onLease == 0 to free all connections
	idle    chan io.ReadWriteCloser // connections waiting to be reused
	leases  chan struct{}           // one token per connection given out
	timer   *time.Timer             // destroys idle connections after the timeout
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool creates a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		idle:    make(chan io.ReadWriteCloser, maxSize),
		leases:  make(chan struct{}, maxSize),
		maker:   maker,
	}
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.leases <- struct{}{}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer.Stop()
	select {
	case c := <-p.idle:
		p.onLease++
		return c, nil
	default:
	}
	c, err := p.maker()
	if err != nil {
		<-p.leases
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.mu.Lock()
	p.idle <- rw.(io.ReadWriteCloser)
	p.onLease--
	if p.onLease == 0 {
		p.timer.Reset(p.timeout)
	}
	p.mu.Unlock()
	<-p.leases
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rw.(io.ReadWriteCloser).Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.leases
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease != 0 {
		return
	}
	for {
		select {
		case c := <-p.idle:
			c.Close()
		default:
			return
		}
	}
}
