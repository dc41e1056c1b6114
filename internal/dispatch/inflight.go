package dispatch

import (
	"sync"
	"time"
)

type (
	// inFlight tracks every message currently being processed, along
	// with its deadline. It is rebuilt from broker redelivery after a
	// restart; nothing here is persisted
	inFlight struct {
		mu     sync.Mutex
		tasks  map[uint64]*task
		nextID uint64
	}

	task struct {
		deadline time.Time
	}
)

func newInFlight() *inFlight {
	return &inFlight{tasks: map[uint64]*task{}}
}

// Add registers a task with its completion deadline and returns its
// tracking id
func (f *inFlight) Add(deadline time.Time) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.tasks[f.nextID] = &task{deadline: deadline}
	return f.nextID
}

// Remove unregisters a finished task
func (f *inFlight) Remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
}

// Count returns the number of tasks currently in flight
func (f *inFlight) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Zombies counts tasks that have exceeded their deadline
func (f *inFlight) Zombies(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	zombies := 0
	for _, t := range f.tasks {
		if now.After(t.deadline) {
			zombies++
		}
	}
	return zombies
}
