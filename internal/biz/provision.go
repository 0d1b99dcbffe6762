package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RelayPool/internal/conf"
	"RelayPool/pkg/mail"
	"RelayPool/pkg/register"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a provisioning task. Transitions are
// monotonic: pending, running, then exactly one terminal state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSuccess   TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskCancelled
}

// TaskLogEntry is one line of a task's execution log.
type TaskLogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Task is a provisioning run. All fields are guarded by the provisioner
// mutex; handlers only ever see snapshots.
type Task struct {
	ID           string         `json:"id"`
	Provider     string         `json:"provider"`
	Status       TaskStatus     `json:"status"`
	Count        int            `json:"count"`
	Progress     int            `json:"progress"`
	SuccessCount int            `json:"success_count"`
	FailCount    int            `json:"fail_count"`
	Logs         []TaskLogEntry `json:"logs"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`

	cancelRequested bool
}

func (t *Task) snapshot() *Task {
	c := *t
	c.Logs = append([]TaskLogEntry(nil), t.Logs...)
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// MailboxProvider allocates throwaway mailboxes for registration flows.
type MailboxProvider interface {
	CreateMailbox(ctx context.Context) (*mail.Mailbox, error)
}

// Registrar drives one account registration against the mailbox and returns
// the resulting credential triple.
type Registrar interface {
	Register(ctx context.Context, mbox *mail.Mailbox) (*register.Credentials, error)
}

// unreachable reports whether err marks a collaborator as down rather than a
// single registration going wrong.
func unreachable(err error) bool {
	var u interface{ Unreachable() bool }
	return errors.As(err, &u) && u.Unreachable()
}

// Provisioner runs account provisioning tasks. At most one task may be
// pending or running at a time; finished tasks stay queryable for the
// process lifetime.
type Provisioner struct {
	pool        *Pool
	mailboxes   MailboxProvider
	registrar   Registrar
	unitTimeout time.Duration
	log         *log.Helper

	mu        sync.Mutex
	tasks     map[string]*Task
	currentID string
}

// NewProvisioner creates the provisioner.
func NewProvisioner(pool *Pool, mailboxes MailboxProvider, registrar Registrar, pc *conf.Provision, logger log.Logger) *Provisioner {
	unitTimeout := 3 * time.Minute
	if pc != nil && pc.UnitTimeout != nil && pc.UnitTimeout.AsDuration() > 0 {
		unitTimeout = pc.UnitTimeout.AsDuration()
	}
	return &Provisioner{
		pool:        pool,
		mailboxes:   mailboxes,
		registrar:   registrar,
		unitTimeout: unitTimeout,
		log:         log.NewHelper(logger),
		tasks:       make(map[string]*Task),
	}
}

// Start launches a new provisioning task for count accounts. It fails with a
// conflict while another task is pending or running.
func (p *Provisioner) Start(count int, provider string) (*Task, error) {
	if count <= 0 {
		return nil, ValidationError("count must be positive, got %d", count)
	}
	if provider == "" {
		provider = "default"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.tasks[p.currentID]; ok && !cur.Status.Terminal() {
		return nil, TaskConflictError("task %s is still %s", cur.ID, cur.Status)
	}

	task := &Task{
		ID:        uuid.NewString(),
		Provider:  provider,
		Status:    TaskPending,
		Count:     count,
		CreatedAt: time.Now(),
	}
	p.tasks[task.ID] = task
	p.currentID = task.ID
	p.logTask(task, "info", fmt.Sprintf("task created for %d accounts via provider %s", count, provider))

	go p.run(task.ID)
	return task.snapshot(), nil
}

// Get returns a snapshot of the task, or a not found error.
func (p *Provisioner) Get(id string) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[id]
	if !ok {
		return nil, NotFoundError("task %s not found", id)
	}
	return task.snapshot(), nil
}

// Current returns a snapshot of the most recently started task, or nil when
// no task has ever run.
func (p *Provisioner) Current() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[p.currentID]
	if !ok {
		return nil
	}
	return task.snapshot()
}

// Cancel requests cooperative cancellation of a task. The task finishes its
// in-flight registration unit and then stops. Cancelling an already terminal
// task is a no-op that returns its final state.
func (p *Provisioner) Cancel(id, reason string) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[id]
	if !ok {
		return nil, NotFoundError("task %s not found", id)
	}
	if task.Status.Terminal() {
		return task.snapshot(), nil
	}
	if !task.cancelRequested {
		task.cancelRequested = true
		task.CancelReason = reason
		p.logTask(task, "warn", "cancellation requested")
	}
	return task.snapshot(), nil
}

// run executes the task's registration units sequentially. Cancellation is
// checked between units; a unit already in flight always completes.
func (p *Provisioner) run(id string) {
	p.mu.Lock()
	task, ok := p.tasks[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	if task.cancelRequested {
		p.finish(task, TaskCancelled, "")
		p.mu.Unlock()
		return
	}
	task.Status = TaskRunning
	count := task.Count
	p.logTask(task, "info", "task started")
	p.mu.Unlock()

	var candidates []AccountCandidate

	for i := 0; i < count; i++ {
		p.mu.Lock()
		cancelled := task.cancelRequested
		p.mu.Unlock()
		if cancelled {
			p.mergeAndFinish(task, candidates, TaskCancelled, "")
			return
		}

		creds, err := p.registerOne(task, i+1)
		p.mu.Lock()
		task.Progress++
		if err != nil {
			if unreachable(err) {
				p.logTask(task, "error", fmt.Sprintf("collaborator unreachable: %v", err))
				p.mu.Unlock()
				p.mergeAndFinish(task, candidates, TaskFailed, err.Error())
				return
			}
			task.FailCount++
			p.logTask(task, "warn", fmt.Sprintf("registration %d/%d failed: %v", i+1, count, err))
		} else {
			task.SuccessCount++
			candidates = append(candidates, AccountCandidate{
				ID:           uuid.NewString(),
				Email:        creds.Email,
				SessionToken: creds.SessionToken,
				SessionIndex: creds.SessionIndex,
				ConfigID:     creds.ConfigID,
			})
			p.logTask(task, "info", fmt.Sprintf("registration %d/%d succeeded", i+1, count))
		}
		p.mu.Unlock()
	}

	// Partial failure is still a completed run; the registered accounts
	// are worth keeping.
	p.mergeAndFinish(task, candidates, TaskSuccess, "")
}

// registerOne runs a single registration unit under its own timeout.
func (p *Provisioner) registerOne(task *Task, n int) (*register.Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.unitTimeout)
	defer cancel()

	mbox, err := p.mailboxes.CreateMailbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailbox allocation failed: %w", err)
	}

	p.mu.Lock()
	p.logTask(task, "info", fmt.Sprintf("unit %d: mailbox %s allocated", n, mbox.Address))
	p.mu.Unlock()

	creds, err := p.registrar.Register(ctx, mbox)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	if creds.Email == "" {
		creds.Email = mbox.Address
	}
	return creds, nil
}

// mergeAndFinish merges collected candidates into the pool and records the
// terminal state.
func (p *Provisioner) mergeAndFinish(task *Task, candidates []AccountCandidate, status TaskStatus, errMsg string) {
	if len(candidates) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := p.pool.UpsertBatch(ctx, candidates)
		p.mu.Lock()
		if err != nil {
			p.logTask(task, "error", fmt.Sprintf("failed to merge %d accounts into pool: %v", len(candidates), err))
			if status == TaskSuccess {
				status, errMsg = TaskFailed, err.Error()
			}
		} else {
			p.logTask(task, "info", fmt.Sprintf("merged accounts into pool: %d added, %d updated", res.Added, res.Updated))
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.finish(task, status, errMsg)
	p.mu.Unlock()
}

// finish records the terminal state. Caller holds the lock.
func (p *Provisioner) finish(task *Task, status TaskStatus, errMsg string) {
	if task.Status.Terminal() {
		return
	}
	task.Status = status
	task.Error = errMsg
	now := time.Now()
	task.FinishedAt = &now
	p.logTask(task, "info", fmt.Sprintf("task finished with status %s (%d ok, %d failed)", status, task.SuccessCount, task.FailCount))
	p.log.Infof("provisioning task %s finished: status=%s success=%d fail=%d", task.ID, status, task.SuccessCount, task.FailCount)
}

// logTask appends to the task log. Caller holds the lock.
func (p *Provisioner) logTask(task *Task, level, msg string) {
	task.Logs = append(task.Logs, TaskLogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
	})
}
