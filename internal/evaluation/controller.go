package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LoveACE-Team/LoveACE/internal/jwc"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// Runner performs the portal-facing steps of one evaluation task. The jwc
// package provides the real implementation; tests use a scripted one.
type Runner interface {
	// Discover fetches the CSRF token and the course list.
	Discover(ctx context.Context) (token string, list *jwc.CourseList, err error)
	// Open accesses the evaluation page, starting the server countdown.
	Open(ctx context.Context, course jwc.Course, token string, evaluationNum int) error
	// Submit builds and posts the evaluation form.
	Submit(ctx context.Context, course jwc.Course, token string, evaluationNum int) (*jwc.SubmitResult, error)
}

// Store persists task snapshots keyed by principal.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, principal string) (*Snapshot, error)
	LoadUnfinished(ctx context.Context) ([]Snapshot, error)
}

// Emitter receives every snapshot transition, for streaming to clients.
// Emit must not block.
type Emitter interface {
	Emit(snap Snapshot)
}

type noopEmitter struct{}

func (noopEmitter) Emit(Snapshot) {}

// task is the in-memory run state behind one principal's snapshot.
type task struct {
	mu      sync.Mutex
	snap    Snapshot
	courses []jwc.Course
	token   string
	evalNum int

	// desired is the control intent: StateRunning, StatePaused or
	// StateTerminated. The advance loop observes it between items.
	desired State
	// sessionPark is set when a session failure parks the loop. The
	// snapshot keeps reporting Running in that case; only an explicit
	// pause shows Paused.
	sessionPark bool
	// wake is signalled when desired changes while the loop is parked.
	wake chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Controller owns all evaluation tasks, one per principal. Transitions are
// serialized per task; every transition is persisted and emitted.
type Controller struct {
	store     Store
	emit      Emitter
	newRunner func(principal string) Runner
	countdown int
	itemPause time.Duration
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

type Config struct {
	// CountdownSeconds is the server-side wait between opening an
	// evaluation page and submitting the form.
	CountdownSeconds int
	// ItemPause is the courtesy delay between consecutive courses.
	ItemPause time.Duration
}

func NewController(store Store, emit Emitter, newRunner func(principal string) Runner, cfg Config, logger *slog.Logger) *Controller {
	if emit == nil {
		emit = noopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = 140
	}
	return &Controller{
		store:     store,
		emit:      emit,
		newRunner: newRunner,
		countdown: cfg.CountdownSeconds,
		itemPause: cfg.ItemPause,
		logger:    logger,
		sleep:     sleepCtx,
		now:       time.Now,
		tasks:     make(map[string]*task),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Init creates and starts an evaluation task for the principal. Calling it
// again while a task is initializing, running or paused is idempotent and
// returns the existing snapshot.
func (c *Controller) Init(ctx context.Context, principal string) (Snapshot, error) {
	c.mu.Lock()
	if existing, ok := c.tasks[principal]; ok {
		existing.mu.Lock()
		state := existing.snap.State
		snap := existing.snap
		existing.mu.Unlock()
		if !state.Terminal() {
			c.mu.Unlock()
			return snap, nil
		}
	}

	t := &task{
		snap: Snapshot{
			TaskID:    uuid.New().String(),
			Principal: principal,
			State:     StateCreated,
			CreatedAt: c.now(),
			UpdatedAt: c.now(),
		},
		desired: StateRunning,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	c.tasks[principal] = t
	c.mu.Unlock()

	c.transition(ctx, t, func(s *Snapshot) {
		s.State = StateInitializing
		s.Message = "discovering courses"
	})

	runner := c.newRunner(principal)
	if err := c.discover(ctx, t, runner); err != nil {
		cancel()
		close(t.done)
		c.transition(ctx, t, func(s *Snapshot) {
			s.State = StateFailed
			s.LastError = err.Error()
			s.Message = "initialization failed"
		})
		return c.snapshot(t), fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	t.mu.Lock()
	pending := len(t.snap.PendingItems)
	t.mu.Unlock()
	if pending == 0 {
		cancel()
		close(t.done)
		c.transition(ctx, t, func(s *Snapshot) {
			s.State = StateCompleted
			s.Message = "all courses already evaluated"
		})
		return c.snapshot(t), nil
	}

	c.transition(ctx, t, func(s *Snapshot) {
		s.State = StateRunning
		s.Message = fmt.Sprintf("%d courses pending", pending)
	})

	go c.run(runCtx, t, runner)
	return c.snapshot(t), nil
}

func (c *Controller) discover(ctx context.Context, t *task, runner Runner) error {
	token, list, err := runner.Discover(ctx)
	if err != nil {
		return err
	}
	items := make([]Item, 0, len(list.Data))
	var pending []string
	for _, course := range list.Data {
		items = append(items, Item{Course: course, Evaluated: !course.Pending()})
		if course.Pending() {
			pending = append(pending, courseName(course))
		}
	}
	t.mu.Lock()
	t.token = token
	t.courses = list.Data
	t.evalNum = list.EvaluationNum
	t.snap.TotalCourses = len(list.Data)
	t.snap.Items = items
	t.snap.PendingItems = pending
	t.snap.Progress = nil
	t.mu.Unlock()
	return nil
}

// run is the advance loop: strictly sequential, one course at a time. Pause
// takes effect between items; terminate cancels promptly, including during
// the countdown wait.
func (c *Controller) run(ctx context.Context, t *task, runner Runner) {
	defer close(t.done)

	for {
		if !c.waitRunnable(ctx, t) {
			return
		}

		course, ok := c.nextPending(t)
		if !ok {
			c.transition(ctx, t, func(s *Snapshot) {
				s.State = StateCompleted
				s.CurrentCourse = ""
				s.Message = fmt.Sprintf("evaluation complete: %d succeeded, %d failed", len(s.Progress), s.FailedItems)
			})
			return
		}

		if done := c.advanceOne(ctx, t, runner, course); done {
			return
		}

		if c.itemPause > 0 {
			if err := c.sleep(ctx, c.itemPause); err != nil {
				c.markTerminated(t)
				return
			}
		}
	}
}

// waitRunnable parks the loop while the task is paused. It returns false
// when the task was terminated.
func (c *Controller) waitRunnable(ctx context.Context, t *task) bool {
	for {
		t.mu.Lock()
		desired := t.desired
		sessionPark := t.sessionPark
		t.mu.Unlock()

		switch desired {
		case StateRunning:
			return true
		case StateTerminated:
			c.markTerminated(t)
			return false
		case StatePaused:
			if !sessionPark {
				c.transition(ctx, t, func(s *Snapshot) {
					if s.State == StateRunning {
						s.State = StatePaused
						s.CurrentCourse = ""
						s.Countdown = 0
						s.Message = "task paused"
					}
				})
			}
			select {
			case <-ctx.Done():
				c.markTerminated(t)
				return false
			case <-t.wake:
			}
		}
	}
}

// advanceOne evaluates a single course. It returns true when the loop must
// stop (terminated or failed fatally).
func (c *Controller) advanceOne(ctx context.Context, t *task, runner Runner, course jwc.Course) bool {
	name := courseName(course)
	t.mu.Lock()
	token, evalNum := t.token, t.evalNum
	t.mu.Unlock()

	if token == "" {
		// A restored task has no CSRF token. Fetch a fresh one; the
		// persisted work list stays authoritative.
		tok, list, err := runner.Discover(ctx)
		if err != nil {
			return c.handleStepError(ctx, t, name, err)
		}
		t.mu.Lock()
		t.token = tok
		t.evalNum = list.EvaluationNum
		t.mu.Unlock()
		token, evalNum = tok, list.EvaluationNum
	}

	c.transition(ctx, t, func(s *Snapshot) {
		s.CurrentCourse = name
		s.Message = "opening evaluation page"
	})

	if err := runner.Open(ctx, course, token, evalNum); err != nil {
		return c.handleStepError(ctx, t, name, err)
	}

	// The portal refuses submissions before its countdown elapses.
	for remaining := c.countdown; remaining > 0; remaining-- {
		t.mu.Lock()
		terminated := t.desired == StateTerminated
		t.mu.Unlock()
		if terminated || ctx.Err() != nil {
			c.markTerminated(t)
			return true
		}
		c.transition(ctx, t, func(s *Snapshot) {
			s.Countdown = remaining
			s.Message = fmt.Sprintf("waiting for countdown: %ds", remaining)
		})
		if err := c.sleep(ctx, time.Second); err != nil {
			c.markTerminated(t)
			return true
		}
	}

	c.transition(ctx, t, func(s *Snapshot) {
		s.Countdown = 0
		s.Message = "submitting evaluation"
	})

	res, err := runner.Submit(ctx, course, token, evalNum)
	if err != nil {
		return c.handleStepError(ctx, t, name, err)
	}

	if res.OK() {
		c.markEvaluated(t, course)
		c.transition(ctx, t, func(s *Snapshot) {
			s.Progress = append(s.Progress, name)
			s.PendingItems = removePending(s.PendingItems, name)
			markItemEvaluated(s, name)
			s.CurrentCourse = ""
			s.LastError = ""
			s.Message = fmt.Sprintf("evaluated %s", name)
		})
		return false
	}

	// The portal rejected the form; skip the course and keep going.
	c.markEvaluated(t, course)
	c.transition(ctx, t, func(s *Snapshot) {
		s.FailedItems++
		s.PendingItems = removePending(s.PendingItems, name)
		markItemEvaluated(s, name)
		s.CurrentCourse = ""
		s.LastError = res.Msg
		s.Message = fmt.Sprintf("portal rejected evaluation for %s", name)
	})
	return false
}

func removePending(pending []string, name string) []string {
	for i, it := range pending {
		if it == name {
			out := make([]string, 0, len(pending)-1)
			out = append(out, pending[:i]...)
			return append(out, pending[i+1:]...)
		}
	}
	return pending
}

// markItemEvaluated flips the persisted work-list flag. The list is copied
// so snapshots already emitted or persisted never mutate under a reader.
func markItemEvaluated(s *Snapshot, name string) {
	for i := range s.Items {
		if courseName(s.Items[i].Course) == name {
			items := make([]Item, len(s.Items))
			copy(items, s.Items)
			items[i].Evaluated = true
			s.Items = items
			return
		}
	}
}

// handleStepError maps a failed portal call onto task state. Session-level
// failures leave the task running with the error recorded; the item stays
// pending so a later pass retries it after the session recovers. Protocol
// failures are fatal for the task.
func (c *Controller) handleStepError(ctx context.Context, t *task, name string, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.markTerminated(t)
		return true
	}

	t.mu.Lock()
	principal := t.snap.Principal
	t.mu.Unlock()

	var exhausted *portal.RetriesExhaustedError
	if errors.Is(err, portal.ErrAuthenticationFailed) || errors.Is(err, portal.ErrTransient) || errors.As(err, &exhausted) {
		c.logger.Warn("evaluation step blocked by session failure",
			"principal", principal, "course", name, "error", err)
		c.transition(ctx, t, func(s *Snapshot) {
			s.CurrentCourse = ""
			s.Countdown = 0
			s.LastError = err.Error()
			s.Message = "session unavailable, waiting for resume"
		})
		// Park rather than burn through the remaining items while the
		// session is down. The task stays Running; resume retries the
		// interrupted course.
		t.mu.Lock()
		if t.desired == StateRunning {
			t.desired = StatePaused
			t.sessionPark = true
		}
		t.mu.Unlock()
		return false
	}

	c.transition(ctx, t, func(s *Snapshot) {
		s.State = StateFailed
		s.CurrentCourse = ""
		s.Countdown = 0
		s.LastError = err.Error()
		s.Message = fmt.Sprintf("evaluation failed on %s", name)
	})
	return true
}

func (c *Controller) nextPending(t *task) (jwc.Course, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, course := range t.courses {
		if course.Pending() {
			return course, true
		}
	}
	return jwc.Course{}, false
}

// markEvaluated flips the local pending flag so the course is not picked
// again; the authoritative flag lives upstream and is re-read on the next
// discovery.
func (c *Controller) markEvaluated(t *task, course jwc.Course) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.courses {
		if sameCourse(t.courses[i], course) {
			t.courses[i].IsEvaluated = "是"
			return
		}
	}
}

func sameCourse(a, b jwc.Course) bool {
	if a.ID != nil && b.ID != nil {
		return *a.ID == *b.ID
	}
	return a.EvaluationContent == b.EvaluationContent && a.EvaluatedPeople == b.EvaluatedPeople
}

func courseName(course jwc.Course) string {
	if course.Questionnaire != nil && course.Questionnaire.Name != "" {
		return course.EvaluationContent + " (" + course.Questionnaire.Name + ")"
	}
	return course.EvaluationContent
}

func (c *Controller) markTerminated(t *task) {
	c.transition(context.Background(), t, func(s *Snapshot) {
		if !s.State.Terminal() {
			s.State = StateTerminated
			s.CurrentCourse = ""
			s.Countdown = 0
			s.Message = "task terminated"
		}
	})
}

// Pause requests a pause; it takes effect at the next item boundary. The
// snapshot keeps reporting Running until the loop actually parks.
func (c *Controller) Pause(ctx context.Context, principal string) (Snapshot, error) {
	t, err := c.lookup(principal)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.Lock()
	if t.snap.State != StateRunning && t.snap.State != StatePaused {
		state := t.snap.State
		t.mu.Unlock()
		return Snapshot{}, fmt.Errorf("cannot pause task in state %s: %w", state, ErrConflict)
	}
	t.desired = StatePaused
	wasParked := t.sessionPark
	t.sessionPark = false
	snap := t.snap
	t.mu.Unlock()
	if wasParked {
		// Wake the parked loop so the snapshot reflects the explicit pause.
		t.signal()
	}
	return snap, nil
}

// Resume restarts a paused task.
func (c *Controller) Resume(ctx context.Context, principal string) (Snapshot, error) {
	t, err := c.lookup(principal)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.Lock()
	if t.snap.State.Terminal() {
		snap := t.snap
		t.mu.Unlock()
		return snap, nil
	}
	if t.snap.State != StatePaused && t.snap.State != StateRunning {
		state := t.snap.State
		t.mu.Unlock()
		return Snapshot{}, fmt.Errorf("cannot resume task in state %s: %w", state, ErrConflict)
	}
	t.desired = StateRunning
	t.sessionPark = false
	t.mu.Unlock()

	c.transition(ctx, t, func(s *Snapshot) {
		if s.State == StatePaused {
			s.State = StateRunning
		}
		s.Message = "task resumed"
	})
	t.signal()
	return c.snapshot(t), nil
}

// Terminate stops the task promptly, cancelling any in-flight wait.
func (c *Controller) Terminate(ctx context.Context, principal string) (Snapshot, error) {
	t, err := c.lookup(principal)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.Lock()
	if t.snap.State.Terminal() {
		snap := t.snap
		t.mu.Unlock()
		return snap, nil
	}
	t.desired = StateTerminated
	cancel := t.cancel
	t.mu.Unlock()

	t.signal()
	if cancel != nil {
		cancel()
	}
	<-t.done
	return c.snapshot(t), nil
}

// Status returns the current snapshot, falling back to the persisted one
// for principals whose task is not in memory.
func (c *Controller) Status(ctx context.Context, principal string) (Snapshot, error) {
	c.mu.Lock()
	t, ok := c.tasks[principal]
	c.mu.Unlock()
	if ok {
		return c.snapshot(t), nil
	}
	snap, err := c.store.Load(ctx, principal)
	if err != nil {
		return Snapshot{}, err
	}
	if snap == nil {
		return Snapshot{}, ErrTaskNotFound
	}
	return *snap, nil
}

// Restore reloads unfinished tasks after a restart. Snapshots that carry
// the discovered work list come back live: running tasks resume advancing
// from their persisted pending items, paused tasks park until an explicit
// resume. A fresh CSRF token is fetched lazily on the first advance.
func (c *Controller) Restore(ctx context.Context) error {
	snaps, err := c.store.LoadUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("restore evaluation tasks: %w", err)
	}
	for _, snap := range snaps {
		snap.CurrentCourse = ""
		snap.Countdown = 0

		if len(snap.Items) == 0 {
			// Interrupted before discovery finished; there is nothing
			// to resume from.
			if snap.State == StateRunning || snap.State == StateInitializing {
				snap.State = StatePaused
				snap.Message = "restored after restart; re-initialize to continue"
			}
			if err := c.store.Save(ctx, snap); err != nil {
				return fmt.Errorf("restore task %s: %w", snap.TaskID, err)
			}
			c.logger.Info("restored evaluation task",
				"principal", snap.Principal, "task", snap.TaskID, "state", string(snap.State))
			continue
		}

		courses := make([]jwc.Course, len(snap.Items))
		for i, item := range snap.Items {
			courses[i] = item.Course
			if item.Evaluated {
				courses[i].IsEvaluated = "是"
			}
		}
		desired := StateRunning
		if snap.State == StatePaused {
			desired = StatePaused
		} else {
			snap.State = StateRunning
		}
		snap.Message = "restored after restart"

		t := &task{
			snap:    snap,
			courses: courses,
			desired: desired,
			wake:    make(chan struct{}, 1),
			done:    make(chan struct{}),
		}
		runCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel

		c.mu.Lock()
		c.tasks[snap.Principal] = t
		c.mu.Unlock()

		if err := c.store.Save(ctx, snap); err != nil {
			return fmt.Errorf("restore task %s: %w", snap.TaskID, err)
		}
		c.logger.Info("restored evaluation task",
			"principal", snap.Principal, "task", snap.TaskID, "state", string(snap.State))
		go c.run(runCtx, t, c.newRunner(snap.Principal))
	}
	return nil
}

func (c *Controller) lookup(principal string) (*task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[principal]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

func (c *Controller) snapshot(t *task) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// transition applies a mutation to the snapshot, persists it and emits it.
// Persistence errors are logged, never fatal: the in-memory task is the
// source of truth while the process lives.
func (c *Controller) transition(ctx context.Context, t *task, mutate func(*Snapshot)) {
	t.mu.Lock()
	mutate(&t.snap)
	t.snap.UpdatedAt = c.now()
	snap := t.snap
	t.mu.Unlock()

	if err := c.store.Save(ctx, snap); err != nil {
		c.logger.Error("persist task snapshot",
			"principal", snap.Principal, "task", snap.TaskID, "error", err)
	}
	c.emit.Emit(snap)
}
