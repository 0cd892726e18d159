package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/graph/internal/queue"
)

func TestQueue(t *testing.T) {
	var tests = []struct {
		push     []int
		pop      int
		expected []int
	}{
		{},
		{
			push:     []int{1},
			pop:      1,
			expected: []int{1},
		},
		{
			push:     []int{1, 2, 3},
			pop:      2,
			expected: []int{1, 2},
		},
		{
			push:     []int{1, 2},
			pop:      3,
			expected: []int{1, 2},
		},
	}
	for _, test := range tests {
		var q queue.Queue[int]
		for _, v := range test.push {
			q.Push(v)
		}
		assert.Equal(t, len(test.push), q.Len())
		var popped []int
		for i := 0; i < test.pop; i++ {
			if v, ok := q.Pop(); ok {
				popped = append(popped, v)
			}
		}
		assert.Equal(t, test.expected, popped)
		assert.Equal(t, len(test.push)-len(popped), q.Len())
	}
}

func TestQueueRecyclesNodes(t *testing.T) {
	var q queue.Queue[string]
	for i := 0; i < 100; i++ {
		q.Push("a")
		q.Push("b")
		v, _ := q.Pop()
		assert.Equal(t, "a", v)
		v, _ = q.Pop()
		assert.Equal(t, "b", v)
	}
	assert.Equal(t, 2, q.Allocs())
}

func TestDrain(t *testing.T) {
	var q queue.Queue[int]
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	var drained []int
	q.Drain(func(v int) {
		drained = append(drained, v)
	})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, drained)
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)

	q.Push(7)
	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 5, q.Allocs())
}
