package store

import (
	"context"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/model"
)

// writeOpType defines the type of write operation
type writeOpType int

const (
	opCreateRun writeOpType = iota
	opUpdateRun
	opPruneRuns
)

// writeOp represents a single write operation with its response channel
type writeOp struct {
	opType   writeOpType
	data     interface{}
	response chan writeResult
}

// writeResult contains the result of a write operation
type writeResult struct {
	err error
}

// writeQueue serializes database writes onto a single writer goroutine,
// since SQLite supports only one writer at a time and render jobs record
// runs concurrently.
type writeQueue struct {
	queue  chan writeOp
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newWriteQueue creates and starts a new write queue
func newWriteQueue(db *Store) *writeQueue {
	ctx, cancel := context.WithCancel(context.Background())
	wq := &writeQueue{
		queue:  make(chan writeOp, 100),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go wq.processQueue(db)

	return wq
}

// processQueue is the single writer goroutine that processes all write
// operations sequentially.
func (wq *writeQueue) processQueue(db *Store) {
	defer close(wq.done)

	for {
		select {
		case <-wq.ctx.Done():
			// Drain remaining operations before shutting down
			for {
				select {
				case op := <-wq.queue:
					wq.executeOp(db, op)
				default:
					return
				}
			}

		case op := <-wq.queue:
			wq.executeOp(db, op)
		}
	}
}

// executeOp executes a single write operation
func (wq *writeQueue) executeOp(db *Store, op writeOp) {
	var result writeResult

	switch op.opType {
	case opCreateRun:
		result.err = db.createRunDirect(op.data.(*model.Run))

	case opUpdateRun:
		result.err = db.updateRunDirect(op.data.(*model.Run))

	case opPruneRuns:
		result.err = db.pruneRunsDirect(op.data.(time.Time))
	}

	op.response <- result
}

// enqueue adds a write operation to the queue and waits for the result
func (wq *writeQueue) enqueue(opType writeOpType, data interface{}) error {
	response := make(chan writeResult, 1)

	op := writeOp{
		opType:   opType,
		data:     data,
		response: response,
	}

	select {
	case wq.queue <- op:
	case <-wq.ctx.Done():
		return wq.ctx.Err()
	}

	select {
	case result := <-response:
		return result.err
	case <-wq.ctx.Done():
		return wq.ctx.Err()
	}
}

// shutdown gracefully shuts down the write queue
func (wq *writeQueue) shutdown() {
	wq.cancel()
	<-wq.done
}
