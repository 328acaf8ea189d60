package orchestrator

import (
	"sync"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
)

// stepLog keeps the progress steps of each deployment in memory.
// Steps of a finished attempt are dropped after the retention period.
type stepLog struct {
	lock      sync.Mutex
	steps     map[string][]deployment.Step
	timers    map[string]*time.Timer
	retention time.Duration
}

func newStepLog(retention time.Duration) *stepLog {
	return &stepLog{
		steps:     make(map[string][]deployment.Step),
		timers:    make(map[string]*time.Timer),
		retention: retention,
	}
}

func (l *stepLog) stopTimer(id string) {
	if timer, ok := l.timers[id]; ok {
		timer.Stop()
		delete(l.timers, id)
	}
}

// reset starts a new log for a deployment attempt.
func (l *stepLog) reset(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stopTimer(id)
	l.steps[id] = make([]deployment.Step, 0)
}

func (l *stepLog) add(id string, step deployment.Step) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.steps[id] = append(l.steps[id], step)
}

func (l *stepLog) get(id string) []deployment.Step {
	l.lock.Lock()
	defer l.lock.Unlock()
	steps := make([]deployment.Step, len(l.steps[id]))
	copy(steps, l.steps[id])
	return steps
}

// expire schedules removal of the log.
func (l *stepLog) expire(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stopTimer(id)
	var timer *time.Timer
	timer = time.AfterFunc(l.retention, func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		// A new attempt may have started since.
		if l.timers[id] != timer {
			return
		}
		delete(l.steps, id)
		delete(l.timers, id)
	})
	l.timers[id] = timer
}
