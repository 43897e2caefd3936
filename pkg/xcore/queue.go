// Package xcore provides the primitives shared by the sampling and the
// storage contexts: the sample queue and the command mailbox.
package xcore

import (
	"context"
	"sync/atomic"
)

// Queue is a bounded FIFO of fixed-size records. The producer never blocks:
// when the queue is full the offered record is dropped.
type Queue struct {
	recordSize int
	ch         chan []byte
	dropped    atomic.Uint64
}

// NewQueue creates a Queue holding up to capacity records of recordSize
// bytes each.
func NewQueue(capacity, recordSize int) *Queue {
	return &Queue{
		recordSize: recordSize,
		ch:         make(chan []byte, capacity),
	}
}

// RecordSize is the size of each record.
func (q *Queue) RecordSize() int {
	return q.recordSize
}

// Cap is the number of records the queue holds.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Len is the number of queued records.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped is the number of records rejected so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// TryEnqueue copies data into a new record and queues it. It returns false
// if the queue is full or data does not fit in a record.
func (q *Queue) TryEnqueue(data []byte) bool {
	if len(data) > q.recordSize {
		q.dropped.Add(1)
		return false
	}
	record := make([]byte, q.recordSize)
	copy(record, data)
	select {
	case q.ch <- record:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// TryDequeue returns the oldest record, or false if the queue is empty.
func (q *Queue) TryDequeue() ([]byte, bool) {
	select {
	case record := <-q.ch:
		return record, true
	default:
		return nil, false
	}
}

// Dequeue waits for the oldest record.
func (q *Queue) Dequeue(ctx context.Context) ([]byte, error) {
	select {
	case record := <-q.ch:
		return record, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
