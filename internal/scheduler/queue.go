package scheduler

import (
	"sort"
	"sync"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// taskQueue hands each task to exactly one worker.
type taskQueue struct {
	mu    sync.Mutex
	tasks []audit.PageTask
}

func newTaskQueue(tasks []audit.PageTask) *taskQueue {
	return &taskQueue{tasks: append([]audit.PageTask(nil), tasks...)}
}

func (q *taskQueue) next() (audit.PageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return audit.PageTask{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

// drain removes and returns every task no worker has started.
func (q *taskQueue) drain() []audit.PageTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	rest := q.tasks
	q.tasks = nil
	return rest
}

type resultSet struct {
	mu      sync.Mutex
	results []audit.PageResult
}

func newResultSet(capacity int) *resultSet {
	return &resultSet{results: make([]audit.PageResult, 0, capacity)}
}

func (r *resultSet) add(result audit.PageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// sorted returns results in discovery order.
func (r *resultSet) sorted() []audit.PageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]audit.PageResult(nil), r.results...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
