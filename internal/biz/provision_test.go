package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"RelayPool/internal/conf"
	"RelayPool/pkg/mail"
	"RelayPool/pkg/register"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

type fakeMailboxProvider struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeMailboxProvider) CreateMailbox(ctx context.Context) (*mail.Mailbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	return &mail.Mailbox{Address: fmt.Sprintf("user%d@test.example", f.n)}, nil
}

type fakeRegistrar struct {
	mu sync.Mutex
	n  int
	// failEvery fails every k-th registration when > 0.
	failEvery int
	err       error
	// block holds registrations until released, for cancellation tests.
	block chan struct{}
}

func (f *fakeRegistrar) Register(ctx context.Context, mbox *mail.Mailbox) (*register.Credentials, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	if f.failEvery > 0 && f.n%f.failEvery == 0 {
		return nil, fmt.Errorf("verification code never arrived")
	}
	return &register.Credentials{
		SessionToken: fmt.Sprintf("token-%d", f.n),
		SessionIndex: fmt.Sprintf("index-%d", f.n),
		ConfigID:     fmt.Sprintf("config-%d", f.n),
		Email:        mbox.Address,
	}, nil
}

// unreachableErr mimics a collaborator-down failure.
type unreachableErr struct{}

func (unreachableErr) Error() string     { return "mail service unreachable" }
func (unreachableErr) Unreachable() bool { return true }

func provisionConfig() *conf.Provision {
	// Short unit timeout keeps blocked-unit tests fast.
	return &conf.Provision{UnitTimeout: durationpb.New(500 * time.Millisecond)}
}

func newTestProvisioner(t *testing.T, mailboxes MailboxProvider, registrar Registrar) (*Provisioner, *Pool) {
	t.Helper()
	pool := newTestPool(t, nil)
	p := NewProvisioner(pool, mailboxes, registrar, provisionConfig(), log.DefaultLogger)
	return p, pool
}

func waitTerminal(t *testing.T, p *Provisioner, id string) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		var err error
		task, err = p.Get(id)
		require.NoError(t, err)
		return task.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestProvisioner_SuccessfulRunMergesIntoPool(t *testing.T) {
	p, pool := newTestProvisioner(t, &fakeMailboxProvider{}, &fakeRegistrar{})

	task, err := p.Start(3, "dreamina")
	require.NoError(t, err)
	assert.Equal(t, 3, task.Count)

	final := waitTerminal(t, p, task.ID)
	assert.Equal(t, TaskSuccess, final.Status)
	assert.Equal(t, 3, final.Progress)
	assert.Equal(t, 3, final.SuccessCount)
	assert.Equal(t, 0, final.FailCount)
	assert.NotEmpty(t, final.Logs)
	assert.Equal(t, 3, pool.Size())
}

func TestProvisioner_PartialFailureStillSucceeds(t *testing.T) {
	// Every second registration fails; the run still completes and keeps
	// the accounts that worked.
	p, pool := newTestProvisioner(t, &fakeMailboxProvider{}, &fakeRegistrar{failEvery: 2})

	task, err := p.Start(4, "")
	require.NoError(t, err)

	final := waitTerminal(t, p, task.ID)
	assert.Equal(t, TaskSuccess, final.Status)
	assert.Equal(t, 2, final.SuccessCount)
	assert.Equal(t, 2, final.FailCount)
	assert.Equal(t, 2, pool.Size())
}

func TestProvisioner_UnreachableCollaboratorFailsTask(t *testing.T) {
	p, pool := newTestProvisioner(t, &fakeMailboxProvider{err: unreachableErr{}}, &fakeRegistrar{})

	task, err := p.Start(3, "")
	require.NoError(t, err)

	final := waitTerminal(t, p, task.ID)
	assert.Equal(t, TaskFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Equal(t, 0, pool.Size())
}

func TestProvisioner_ConflictWhileRunning(t *testing.T) {
	reg := &fakeRegistrar{block: make(chan struct{})}
	p, _ := newTestProvisioner(t, &fakeMailboxProvider{}, reg)

	task, err := p.Start(2, "")
	require.NoError(t, err)

	_, err = p.Start(1, "")
	require.Error(t, err)
	assert.True(t, IsTaskConflict(err))

	close(reg.block)
	waitTerminal(t, p, task.ID)

	// A terminal task no longer blocks new ones.
	_, err = p.Start(1, "")
	assert.NoError(t, err)
}

func TestProvisioner_CancelBetweenUnits(t *testing.T) {
	reg := &fakeRegistrar{block: make(chan struct{}, 1)}
	p, pool := newTestProvisioner(t, &fakeMailboxProvider{}, reg)

	task, err := p.Start(5, "")
	require.NoError(t, err)

	// Let exactly one unit through, then cancel.
	reg.block <- struct{}{}
	require.Eventually(t, func() bool {
		snap, err := p.Get(task.ID)
		require.NoError(t, err)
		return snap.Progress >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancelled, err := p.Cancel(task.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, "operator request", cancelled.CancelReason)

	final := waitTerminal(t, p, task.ID)
	assert.Equal(t, TaskCancelled, final.Status)
	assert.Equal(t, 1, final.SuccessCount)
	// The unit that completed before cancellation is kept.
	assert.Equal(t, 1, pool.Size())

	// Cancelling a terminal task is a no-op.
	again, err := p.Cancel(task.ID, "late")
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, again.Status)
	assert.Equal(t, "operator request", again.CancelReason)
}

func TestProvisioner_GetAndCurrent(t *testing.T) {
	p, _ := newTestProvisioner(t, &fakeMailboxProvider{}, &fakeRegistrar{})

	assert.Nil(t, p.Current())
	_, err := p.Get("nope")
	assert.True(t, IsNotFound(err))

	task, err := p.Start(1, "")
	require.NoError(t, err)

	current := p.Current()
	require.NotNil(t, current)
	assert.Equal(t, task.ID, current.ID)

	waitTerminal(t, p, task.ID)
}

func TestProvisioner_RejectsNonPositiveCount(t *testing.T) {
	p, _ := newTestProvisioner(t, &fakeMailboxProvider{}, &fakeRegistrar{})
	_, err := p.Start(0, "")
	assert.True(t, IsValidation(err))
}
