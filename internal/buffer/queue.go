// Package buffer holds telemetry records that could not be delivered yet and
// forwards them once the monitoring API is reachable again.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

// RequeuePolicy decides where a record goes back when its delivery fails
// during a drain pass.
type RequeuePolicy string

const (
	// RequeueTail appends the failed record behind everything else. This moves
	// it behind records queued after it, matching the deployed agents.
	RequeueTail RequeuePolicy = "tail"
	// RequeueHead puts the failed record back in front so delivery order is
	// always capture order.
	RequeueHead RequeuePolicy = "head"
)

// ParseRequeuePolicy validates a policy name. Empty selects RequeueTail.
func ParseRequeuePolicy(s string) (RequeuePolicy, error) {
	switch RequeuePolicy(s) {
	case "", RequeueTail:
		return RequeueTail, nil
	case RequeueHead:
		return RequeueHead, nil
	default:
		return "", fmt.Errorf("unknown requeue policy %q (want %q or %q)", s, RequeueTail, RequeueHead)
	}
}

// Options configures a Queue.
type Options struct {
	// Requeue selects where failed deliveries go back. Default: RequeueTail.
	Requeue RequeuePolicy

	// Store persists the queue after every change. Nil keeps records in
	// memory only; they are lost when the process exits.
	Store Store

	// OnStoreError is called when persisting the queue fails. The in-memory
	// queue stays authoritative either way.
	OnStoreError func(op string, err error)
}

// Queue is an unbounded FIFO of telemetry records.
//
// The agent's control loop is its only writer. The mutex lets observers such
// as metric gauges read Len and Stats from other goroutines.
type Queue struct {
	mu      sync.Mutex
	records []agent.TelemetryRecord

	requeue      RequeuePolicy
	store        Store
	onStoreError func(op string, err error)

	totalEnqueued  atomic.Int64
	totalDelivered atomic.Int64
	totalRequeued  atomic.Int64
	drainPasses    atomic.Int64
}

// NewQueue creates an empty queue.
func NewQueue(opts Options) *Queue {
	requeue := opts.Requeue
	if requeue == "" {
		requeue = RequeueTail
	}
	return &Queue{
		requeue:      requeue,
		store:        opts.Store,
		onStoreError: opts.OnStoreError,
	}
}

// Durable reports whether the queue is backed by a store.
func (q *Queue) Durable() bool {
	return q.store != nil
}

// Restore loads previously persisted records in front of anything already
// queued. It returns the number of restored records; without a store it is a
// no-op.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	restored, err := q.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load buffered records: %w", err)
	}
	if len(restored) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	q.records = append(restored, q.records...)
	q.mu.Unlock()
	return len(restored), nil
}

// Push appends rec to the tail.
func (q *Queue) Push(ctx context.Context, rec agent.TelemetryRecord) {
	q.mu.Lock()
	q.records = append(q.records, rec)
	q.mu.Unlock()

	q.totalEnqueued.Add(1)
	q.persist(ctx, "push")
}

// pop removes and returns the head record.
func (q *Queue) pop() (agent.TelemetryRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return agent.TelemetryRecord{}, false
	}
	rec := q.records[0]
	q.records[0] = agent.TelemetryRecord{}
	q.records = q.records[1:]
	return rec, true
}

// putBack returns a record whose delivery failed according to the policy.
func (q *Queue) putBack(rec agent.TelemetryRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.requeue == RequeueHead {
		q.records = append([]agent.TelemetryRecord{rec}, q.records...)
		return
	}
	q.records = append(q.records, rec)
}

// ReachabilityFunc reports whether the monitoring API can be reached now.
type ReachabilityFunc func(ctx context.Context) bool

// DeliverFunc submits one record to the monitoring API.
type DeliverFunc func(ctx context.Context, rec agent.TelemetryRecord) error

// DrainResult summarises one drain pass.
type DrainResult struct {
	// Delivered is how many records left the queue.
	Delivered int

	// Offline is set when the pass stopped because the API was unreachable.
	Offline bool

	// Err is the delivery error that stopped the pass, if any. The failed
	// record is back in the queue.
	Err error

	// Remaining is the queue depth after the pass.
	Remaining int
}

// Drain delivers queued records head first while reachable reports true.
//
// The first failed delivery puts the popped record back (see RequeuePolicy)
// and ends the pass without probing again, leaving the rest of the backlog
// for the next pass.
func (q *Queue) Drain(ctx context.Context, reachable ReachabilityFunc, deliver DeliverFunc) DrainResult {
	q.drainPasses.Add(1)

	var res DrainResult
	for ctx.Err() == nil && q.Len() > 0 {
		if !reachable(ctx) {
			res.Offline = true
			break
		}

		rec, ok := q.pop()
		if !ok {
			break
		}

		if err := deliver(ctx, rec); err != nil {
			q.putBack(rec)
			q.totalRequeued.Add(1)
			q.persist(ctx, "requeue")
			res.Err = err
			break
		}

		res.Delivered++
		q.totalDelivered.Add(1)
		q.persist(ctx, "drain")
	}

	res.Remaining = q.Len()
	return res
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Snapshot returns a copy of the queued records, head first.
func (q *Queue) Snapshot() []agent.TelemetryRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]agent.TelemetryRecord(nil), q.records...)
}

// Stats holds queue counters.
type Stats struct {
	Depth          int
	TotalEnqueued  int64
	TotalDelivered int64
	TotalRequeued  int64
	DrainPasses    int64
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:          q.Len(),
		TotalEnqueued:  q.totalEnqueued.Load(),
		TotalDelivered: q.totalDelivered.Load(),
		TotalRequeued:  q.totalRequeued.Load(),
		DrainPasses:    q.drainPasses.Load(),
	}
}

func (q *Queue) persist(ctx context.Context, op string) {
	if q.store == nil {
		return
	}
	if err := q.store.Replace(ctx, q.Snapshot()); err != nil && q.onStoreError != nil {
		q.onStoreError(op, err)
	}
}
