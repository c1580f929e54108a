package camera

import (
	"errors"
	"sync"
	"time"
)

var errExecutorStopped = errors.New("camera executor stopped")

// executor runs posted functions one at a time on a single goroutine. All
// camera state is owned by that goroutine.
type executor struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post queues fn. It reports false once the executor has stopped.
func (e *executor) post(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// do runs fn on the executor and waits for it. It must not be called from the
// executor goroutine.
func (e *executor) do(fn func() error) error {
	result := make(chan error, 1)
	if !e.post(func() { result <- fn() }) {
		return errExecutorStopped
	}
	select {
	case err := <-result:
		return err
	case <-e.done:
		return errExecutorStopped
	}
}

// schedule runs fn on the executor after d unless the task is cancelled first.
func (e *executor) schedule(d time.Duration, fn func()) *task {
	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		e.post(func() {
			if !t.cancelled {
				fn()
			}
		})
	})
	return t
}

func (e *executor) stop() {
	e.once.Do(func() { close(e.quit) })
	<-e.done
}

// task is a scheduled function. cancelled is only touched on the executor.
type task struct {
	timer     *time.Timer
	cancelled bool
}

func (t *task) cancel() {
	t.cancelled = true
	t.timer.Stop()
}
