// Package queue provides a FIFO that recycles its nodes.
package queue

type node[T any] struct {
	value T
	next  *node[T]
}

// Queue is a singly linked FIFO. Nodes popped from the queue are kept in a
// free-list and reused by subsequent pushes, so steady state streaming
// doesn't allocate. Queue is not safe for concurrent use.
type Queue[T any] struct {
	head, tail *node[T]
	free       *node[T]
	len        int
	allocs     int
}

// Push appends value to the tail.
func (q *Queue[T]) Push(value T) {
	n := q.free
	if n != nil {
		q.free = n.next
		n.next = nil
	} else {
		n = &node[T]{}
		q.allocs++
	}
	n.value = value
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.len++
}

// Pop removes the value at the head. Ok is false if the queue is empty.
func (q *Queue[T]) Pop() (value T, ok bool) {
	n := q.head
	if n == nil {
		return value, false
	}
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.len--
	value = n.value
	q.recycle(n)
	return value, true
}

// Drain removes all values and calls fn for each of them in FIFO order.
func (q *Queue[T]) Drain(fn func(T)) {
	for {
		v, ok := q.Pop()
		if !ok {
			return
		}
		if fn != nil {
			fn(v)
		}
	}
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	return q.len
}

// Allocs returns the number of nodes ever allocated.
func (q *Queue[T]) Allocs() int {
	return q.allocs
}

func (q *Queue[T]) recycle(n *node[T]) {
	var zero T
	n.value = zero
	n.next = q.free
	q.free = n
}
