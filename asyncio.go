package resvfs

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// asyncTicket identifies one outstanding submission to the async read
// coordinator. It is distinct from a FileTicket: a submission may sit
// queued for a while before the coordinator actually hands it to the file
// layer.
type asyncTicket int64

type asyncRequestState int32

const (
	requestQueued asyncRequestState = iota
	requestIssued
	requestDone
)

type asyncRequest struct {
	layer  FileLayer
	ref    FileRef
	buf    []byte
	offset int64
	length int
	cancel *DefaultCancelable

	state      atomic.Int32
	fileTicket FileTicket
	n          int
	err        error
	mu         sync.Mutex // guards fileTicket/n/err while transitioning state
}

// asyncCoordinator provides non-blocking submission, a bounded
// outstanding-request table, and completion harvesting, layered over a
// FileLayer's own async primitives. Submission that would exceed
// maxOutstanding is queued for a background pump goroutine rather than
// ever blocking the submitter.
type asyncCoordinator struct {
	maxOutstanding int

	mu          sync.Mutex
	outstanding int
	nextTicket  int64
	requests    map[asyncTicket]*asyncRequest
	queue       chan *asyncRequest

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// newAsyncCoordinator starts the coordinator's background pump, supervised
// by an errgroup so Close can wait for a clean shutdown.
func newAsyncCoordinator(maxOutstanding int) *asyncCoordinator {
	if maxOutstanding < 1 {
		maxOutstanding = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	c := &asyncCoordinator{
		maxOutstanding: maxOutstanding,
		requests:       make(map[asyncTicket]*asyncRequest),
		queue:          make(chan *asyncRequest, maxOutstanding*4),
		eg:             eg,
		cancel:         cancel,
	}
	eg.Go(func() error {
		c.pump(egCtx)
		return nil
	})
	return c
}

// Close stops the pump goroutine and waits for it to exit.
func (c *asyncCoordinator) Close() {
	c.cancel()
	c.eg.Wait()
}

// Submit issues a non-blocking read request. It never blocks; if the
// outstanding-request table is full the request is queued for the pump
// goroutine and a ticket is returned immediately — the caller still polls
// or waits on it exactly as if it had been issued right away.
func (c *asyncCoordinator) Submit(layer FileLayer, ref FileRef, buf []byte, offset int64, length int, cancel *DefaultCancelable) asyncTicket {
	req := &asyncRequest{layer: layer, ref: ref, buf: buf, offset: offset, length: length, cancel: cancel}
	req.state.Store(int32(requestQueued))

	c.mu.Lock()
	c.nextTicket++
	ticket := asyncTicket(c.nextTicket)
	c.requests[ticket] = req
	c.mu.Unlock()

	if cancel != nil {
		cancel.Add(cancelFunc(func() {
			c.cancelRequest(req)
		}))
	}

	select {
	case c.queue <- req:
	default:
		// Queue itself is bounded generously (4x maxOutstanding); if it is
		// ever this deep the system is already far behind, so fail the
		// request immediately rather than silently growing unbounded.
		req.mu.Lock()
		req.err = errAsyncQueueFull{}
		req.mu.Unlock()
		req.state.Store(int32(requestDone))
	}
	return ticket
}

func (c *asyncCoordinator) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			c.issue(ctx, req)
		}
	}
}

func (c *asyncCoordinator) issue(ctx context.Context, req *asyncRequest) {
	if req.cancel != nil && req.cancel.IsCancelled() {
		req.state.Store(int32(requestDone))
		return
	}

	c.mu.Lock()
	for c.outstanding >= c.maxOutstanding {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		default:
		}
		runtime.Gosched()
		c.mu.Lock()
	}
	c.outstanding++
	c.mu.Unlock()

	ft, err := req.layer.ReadAsync(req.ref, req.buf, req.offset, req.length)
	if err != nil {
		c.mu.Lock()
		c.outstanding--
		c.mu.Unlock()
		req.mu.Lock()
		req.err = err
		req.mu.Unlock()
		req.state.Store(int32(requestDone))
		return
	}

	req.mu.Lock()
	req.fileTicket = ft
	req.mu.Unlock()
	req.state.Store(int32(requestIssued))
}

// Poll is non-blocking: (0, nil, false) while queued or in flight, the
// completion once done.
func (c *asyncCoordinator) Poll(ticket asyncTicket) (int, error, bool) {
	req := c.lookup(ticket)
	if req == nil {
		return 0, &InvalidArgumentError{Message: "unknown async ticket"}, true
	}

	switch asyncRequestState(req.state.Load()) {
	case requestDone:
		return c.harvest(ticket, req)
	case requestIssued:
		req.mu.Lock()
		ft := req.fileTicket
		req.mu.Unlock()
		n, err, done := req.layer.PollAsync(ft)
		if !done {
			return 0, nil, false
		}
		req.mu.Lock()
		req.n, req.err = n, err
		req.mu.Unlock()
		req.state.Store(int32(requestDone))
		return c.harvest(ticket, req)
	default:
		return 0, nil, false
	}
}

// Wait blocks until ticket completes.
func (c *asyncCoordinator) Wait(ticket asyncTicket) (int, error) {
	req := c.lookup(ticket)
	if req == nil {
		return 0, &InvalidArgumentError{Message: "unknown async ticket"}
	}

	for {
		switch asyncRequestState(req.state.Load()) {
		case requestDone:
			n, err, _ := c.harvest(ticket, req)
			return n, err
		case requestIssued:
			req.mu.Lock()
			ft := req.fileTicket
			req.mu.Unlock()
			n, err := req.layer.WaitAsync(ft)
			req.mu.Lock()
			req.n, req.err = n, err
			req.mu.Unlock()
			req.state.Store(int32(requestDone))
			return c.harvest(ticket, req)
		default:
			// Still queued: briefly yield to the pump goroutine.
			runtime.Gosched()
		}
	}
}

func (c *asyncCoordinator) harvest(ticket asyncTicket, req *asyncRequest) (int, error, bool) {
	c.mu.Lock()
	if _, ok := c.requests[ticket]; ok {
		delete(c.requests, ticket)
		c.outstanding--
		if c.outstanding < 0 {
			c.outstanding = 0
		}
	}
	c.mu.Unlock()

	req.mu.Lock()
	defer req.mu.Unlock()
	if req.err == nil && req.n < req.length {
		return req.n, &ShortReadError{Requested: req.length, Got: req.n}, true
	}
	return req.n, req.err, true
}

func (c *asyncCoordinator) cancelRequest(req *asyncRequest) {
	if asyncRequestState(req.state.Load()) == requestIssued {
		req.mu.Lock()
		ft := req.fileTicket
		req.mu.Unlock()
		req.layer.CancelAsync(ft)
	}
}

func (c *asyncCoordinator) lookup(ticket asyncTicket) *asyncRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[ticket]
}

// cancelFunc adapts a plain func() to the Cancelable interface so it can be
// registered as a child of a load's cancellation tree.
type cancelFunc func()

func (f cancelFunc) Cancel()           { f() }
func (f cancelFunc) IsCancelled() bool { return false }
func (f cancelFunc) Add(Cancelable)    {}
