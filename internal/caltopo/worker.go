package caltopo

import "log"

// PostWorker runs queued CalTopo calls on a small pool of goroutines.
// Enqueue never blocks; when the queue is full the job is dropped, which
// only costs one marker update.
type PostWorker struct {
	jobs chan func()
	done chan struct{}
}

func NewPostWorker(workers, queueSize int) *PostWorker {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &PostWorker{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

func (w *PostWorker) run() {
	for {
		select {
		case job := <-w.jobs:
			job()
		case <-w.done:
			return
		}
	}
}

func (w *PostWorker) Enqueue(job func()) {
	select {
	case w.jobs <- job:
	default:
		log.Printf("post worker queue full; dropping job")
	}
}

func (w *PostWorker) Stop() {
	close(w.done)
}
