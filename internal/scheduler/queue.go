package scheduler

import "container/heap"

type item struct {
	job   Job
	index int
}

// jobQueue is a min-heap ordered by RunAt, ties broken by ID.
type jobQueue []*item

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].job.RunAt.Equal(q[j].job.RunAt) {
		return q[i].job.ID < q[j].job.ID
	}
	return q[i].job.RunAt.Before(q[j].job.RunAt)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
