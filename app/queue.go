package app

import "context"

// Post queues task to run on the machine's event loop. Timer and history
// callbacks never touch state directly; they post tasks. Safe for concurrent
// use. Tasks posted after Close are dropped.
func (m *Machine) Post(task func()) {
	if m.isClosed() {
		return
	}

	m.tasksMu.Lock()
	m.tasks = append(m.tasks, task)
	m.tasksMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Drain runs queued tasks, including ones queued while draining, until the
// queue is empty. Returns the number of tasks run. Drain and Run must be
// called from a single goroutine, the one that owns the event loop.
func (m *Machine) Drain() int {
	n := 0
	for {
		m.tasksMu.Lock()
		if len(m.tasks) == 0 {
			m.tasksMu.Unlock()
			return n
		}
		task := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.tasksMu.Unlock()

		task()
		n++
	}
}

// Pending returns the number of queued tasks.
func (m *Machine) Pending() int {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	return len(m.tasks)
}

// Run drains tasks as they arrive until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	for {
		m.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
		}
	}
}
