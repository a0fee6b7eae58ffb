package backend

import (
	"fmt"
	"sync"

	"github.com/achilleasa/rayforge/log"
)

var logger = log.New("backend")

// Fence tracks a monotonically increasing completion value. Each submission
// is assigned the next value; the queue worker signals it on completion.
type Fence struct {
	mu        sync.Mutex
	cond      *sync.Cond
	issued    uint64
	completed uint64
	failed    map[uint64]error
}

// Create a new fence with no issued values.
func NewFence() *Fence {
	f := &Fence{
		failed: make(map[uint64]error),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Issue reserves the next fence value.
func (f *Fence) Issue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return f.issued
}

// Issued returns the last reserved value.
func (f *Fence) Issued() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

// Completed returns the last signaled value.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Signal marks value as completed. A non-nil err is reported to waiters of
// this specific value.
func (f *Fence) Signal(value uint64, err error) {
	f.mu.Lock()
	if err != nil {
		f.failed[value] = err
	}
	if value > f.completed {
		f.completed = value
	}
	if value > f.issued {
		f.issued = value
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

// IsComplete reports whether value has been signaled.
func (f *Fence) IsComplete(value uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed >= value
}

// Wait blocks until value has been signaled. It returns immediately if the
// fence has already reached value.
func (f *Fence) Wait(value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if value > f.issued {
		return fmt.Errorf("fence value %d was never issued (last issued %d): %w", value, f.issued, ErrInvalidParameter)
	}
	for f.completed < value {
		f.cond.Wait()
	}
	return f.failed[value]
}

// Forget drops any error recorded for value.
func (f *Fence) Forget(value uint64) {
	f.mu.Lock()
	delete(f.failed, value)
	f.mu.Unlock()
}

// FenceEvent is an Event backed by a Fence value.
type FenceEvent struct {
	fence *Fence
	value uint64
}

// Create an event that completes when fence reaches value.
func NewFenceEvent(fence *Fence, value uint64) *FenceEvent {
	return &FenceEvent{fence: fence, value: value}
}

func (e *FenceEvent) Value() uint64    { return e.value }
func (e *FenceEvent) IsComplete() bool { return e.fence.IsComplete(e.value) }
func (e *FenceEvent) Wait() error      { return e.fence.Wait(e.value) }

// Fence returns the fence this event belongs to.
func (e *FenceEvent) Fence() *Fence { return e.fence }

// Release drops any error recorded for this event.
func (e *FenceEvent) Release() { e.fence.Forget(e.value) }

// LabeledCommand is a recorded command with a diagnostic label.
type LabeledCommand struct {
	Label string
	Run   Command
}

type submission struct {
	cmds  []LabeledCommand
	wait  Event
	value uint64
	done  func(value uint64)
}

// Queue executes submissions in order on a dedicated worker goroutine.
type Queue struct {
	name  string
	fence *Fence

	mu      sync.Mutex
	closed  bool
	reqChan chan *submission

	doneChan chan struct{}
}

// Create a new queue and start its worker.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:     name,
		fence:    NewFence(),
		reqChan:  make(chan *submission, 64),
		doneChan: make(chan struct{}),
	}
	go q.worker()
	return q
}

// Fence returns the queue completion fence.
func (q *Queue) Fence() *Fence {
	return q.fence
}

// Submit enqueues a list of commands. If wait is not nil, execution starts
// only after wait completes. The optional done callback runs on the worker
// after the commands complete and before the fence is signaled.
func (q *Queue) Submit(cmds []LabeledCommand, wait Event, done func(value uint64)) (*FenceEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrDeviceClosed
	}

	value := q.fence.Issue()
	q.reqChan <- &submission{cmds: cmds, wait: wait, value: value, done: done}
	return NewFenceEvent(q.fence, value), nil
}

// Close waits for pending submissions and stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.reqChan)
	q.mu.Unlock()

	<-q.doneChan
}

func (q *Queue) worker() {
	defer close(q.doneChan)

	for sub := range q.reqChan {
		var err error
		if sub.wait != nil {
			if waitErr := sub.wait.Wait(); waitErr != nil {
				err = fmt.Errorf("queue %s: dependency %d failed: %w", q.name, sub.wait.Value(), waitErr)
			}
		}

		if err == nil {
			err = q.run(sub)
		}

		if err != nil {
			logger.Errorf("queue %s: submission %d failed: %v", q.name, sub.value, err)
		}

		if sub.done != nil {
			sub.done(sub.value)
		}
		q.fence.Signal(sub.value, err)
	}
}

func (q *Queue) run(sub *submission) (err error) {
	var label string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s: command %q panicked: %v", q.name, label, r)
		}
	}()

	for _, cmd := range sub.cmds {
		label = cmd.Label
		if err = cmd.Run(); err != nil {
			return fmt.Errorf("queue %s: command %q: %w", q.name, label, err)
		}
	}
	return nil
}

// CommandList is the recorded state of a command stream. Backends embed it
// in their stream type or use it directly.
type CommandList struct {
	external bool
	cmds     []LabeledCommand
	temps    []*TransientBlock

	// The fence value of the last submission that used this list.
	epoch uint64
}

// Create a new command list.
func NewCommandList(external bool) *CommandList {
	return &CommandList{external: external}
}

func (l *CommandList) External() bool { return l.external }

// Record appends a command.
func (l *CommandList) Record(label string, cmd Command) {
	l.cmds = append(l.cmds, LabeledCommand{Label: label, Run: cmd})
}

// Len returns the number of recorded commands.
func (l *CommandList) Len() int {
	return len(l.cmds)
}

// Take moves the recorded commands out of the list.
func (l *CommandList) Take() []LabeledCommand {
	cmds := l.cmds
	l.cmds = nil
	return cmds
}

// Epoch returns the fence value of the last submission.
func (l *CommandList) Epoch() uint64 {
	return l.epoch
}

// SetEpoch records the fence value of a submission that used this list.
func (l *CommandList) SetEpoch(epoch uint64) {
	l.epoch = epoch
}

// AddTemporary tracks a transient block that must be returned to its pool
// once the commands using it complete.
func (l *CommandList) AddTemporary(b *TransientBlock) {
	l.temps = append(l.temps, b)
}

// Temporaries returns the number of tracked transient blocks.
func (l *CommandList) Temporaries() int {
	return len(l.temps)
}

// ClearTemporaries returns every tracked transient block to pool, tagged
// with epoch.
func (l *CommandList) ClearTemporaries(pool *TransientPool, epoch uint64) {
	for _, b := range l.temps {
		pool.Release(b, epoch)
	}
	l.temps = nil
}

// Reset drops recorded commands. Transient blocks must be cleared first.
func (l *CommandList) Reset() {
	l.cmds = nil
	l.epoch = 0
}
