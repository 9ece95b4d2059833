package vault

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction is the side of a transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Phase is a transfer job's lifecycle position. Jobs only ever move
// forward.
type Phase int

const (
	PhaseValidating Phase = iota
	PhaseTransferring
	PhaseVerifying
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseTransferring:
		return "transferring"
	case PhaseVerifying:
		return "verifying"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase settles the job.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// ErrPhaseRegression is returned when a transition would move a job
// backward or out of a terminal phase.
var ErrPhaseRegression = errors.New("vault: transfer job phase cannot move backward")

// TransferJob is the mutable state of one transfer. It is created when
// the transfer begins, mutated only by the Manager through the
// Tracker, and discarded once the terminal phase has been reported.
type TransferJob struct {
	ID         string
	DocumentID string
	Direction  Direction
	Bytes      int64
	Phase      Phase
	Retries    int
	StartedAt  time.Time
	EndedAt    time.Time
}

// TransferEvent is one job transition delivered to observers. Job is a
// copy taken at transition time, so observers never see later mutation.
type TransferEvent struct {
	Job TransferJob
}

// Tracker broadcasts transfer job transitions. Each subscriber sees
// every transition at least once, in phase order, for jobs created
// after it subscribed; jobs that settled before a subscriber joined are
// never replayed. Transfer metrics are recorded when a job settles.
type Tracker struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	metrics *Metrics
}

// NewTracker creates a tracker. metrics may be nil.
func NewTracker(metrics *Metrics) *Tracker {
	return &Tracker{
		subs:    make(map[int]*subscriber),
		metrics: metrics,
	}
}

// Subscribe registers an observer. The returned cancel function stops
// delivery and closes the channel; it is safe to call more than once.
func (t *Tracker) Subscribe() (<-chan TransferEvent, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan TransferEvent),
		quit: make(chan struct{}),
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = s
	t.mu.Unlock()

	go s.pump()

	cancel := func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Begin creates a job in the validating phase and reports it.
func (t *Tracker) Begin(documentID string, direction Direction, bytes int64) *TransferJob {
	job := &TransferJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Direction:  direction,
		Bytes:      bytes,
		Phase:      PhaseValidating,
		StartedAt:  time.Now(),
	}

	t.mu.Lock()
	t.publishLocked(job)
	t.mu.Unlock()
	return job
}

// Advance moves the job forward to phase and reports the transition.
func (t *Tracker) Advance(job *TransferJob, phase Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if phase <= job.Phase || job.Phase.Terminal() {
		return ErrPhaseRegression
	}
	job.Phase = phase
	t.publishLocked(job)
	return nil
}

// Done settles the job successfully.
func (t *Tracker) Done(job *TransferJob) {
	t.settle(job, PhaseDone, "success")
}

// Fail settles the job with a failure.
func (t *Tracker) Fail(job *TransferJob) {
	t.settle(job, PhaseFailed, "failure")
}

func (t *Tracker) settle(job *TransferJob, phase Phase, outcome string) {
	t.mu.Lock()
	if job.Phase.Terminal() {
		t.mu.Unlock()
		return
	}
	job.Phase = phase
	job.EndedAt = time.Now()
	t.publishLocked(job)
	t.mu.Unlock()

	t.metrics.RecordTransfer(job.Direction, outcome, job.EndedAt.Sub(job.StartedAt), job.Bytes, job.Retries)
}

// SetDocument records the server-assigned document id on an upload job.
func (t *Tracker) SetDocument(job *TransferJob, documentID string) {
	t.mu.Lock()
	job.DocumentID = documentID
	t.mu.Unlock()
}

// SetRetries records how many network retries the transfer consumed.
func (t *Tracker) SetRetries(job *TransferJob, retries int) {
	t.mu.Lock()
	if retries > 0 {
		job.Retries = retries
	}
	t.mu.Unlock()
}

// SetBytes records the payload size once known.
func (t *Tracker) SetBytes(job *TransferJob, bytes int64) {
	t.mu.Lock()
	job.Bytes = bytes
	t.mu.Unlock()
}

// publishLocked snapshots the job and queues the event for every
// subscriber. Called with t.mu held so event order matches transition
// order for all subscribers.
func (t *Tracker) publishLocked(job *TransferJob) {
	if len(t.subs) == 0 {
		return
	}
	event := TransferEvent{Job: *job}
	for _, s := range t.subs {
		s.push(event)
	}
}

// subscriber decouples publishers from a possibly slow observer: an
// unbounded ordered queue absorbs transitions, and a pump goroutine
// drains it into the outbound channel.
type subscriber struct {
	mu    sync.Mutex
	queue []TransferEvent
	wake  chan struct{}
	out   chan TransferEvent
	quit  chan struct{}
	once  sync.Once
}

func (s *subscriber) push(event TransferEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- event:
			case <-s.quit:
				return
			}
			continue
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}
