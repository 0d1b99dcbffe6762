package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// poolEntry wraps an account with its selection bookkeeping. The entry mutex
// guards the account fields; lastUsed orders least-recently-used selection.
type poolEntry struct {
	mu       sync.Mutex
	acct     *Account
	lastUsed uint64
}

// Pool is the authoritative in-memory registry of upstream accounts. All
// mutations go through it; the repository provides durability only. The
// structural mutex guards the entry map, per-entry mutexes guard account
// state, so health updates on different accounts do not contend.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry

	seq  uint64 // selection counter, guarded by mu
	repo AccountRepo
	now  func() time.Time
	log  *log.Helper
}

// NewPool creates the pool and hydrates it from the repository.
func NewPool(repo AccountRepo, logger log.Logger) (*Pool, error) {
	p := &Pool{
		entries: make(map[string]*poolEntry),
		repo:    repo,
		now:     time.Now,
		log:     log.NewHelper(logger),
	}

	if repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		accounts, err := repo.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate account pool: %w", err)
		}
		for _, a := range accounts {
			p.entries[a.ID] = &poolEntry{acct: a}
		}
		p.log.Infof("account pool hydrated with %d accounts", len(accounts))
	}

	return p, nil
}

// Size returns the number of accounts in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// List returns snapshots of all accounts ordered by creation time.
func (p *Pool) List() []*Account {
	p.mu.RLock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	out := make([]*Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.acct.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a snapshot of one account.
func (p *Pool) Get(id string) (*Account, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return nil, NotFoundError("account %s not found", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Clone(), nil
}

// BatchResult reports the effect of a pool merge.
type BatchResult struct {
	Added   int
	Updated int
	Skipped int
}

// UpsertBatch merges candidates into the pool by id. Candidates missing any
// credential field are skipped. A candidate without an id is assigned
// account_N where N is the pool size before the batch plus the number of
// accounts already added by this batch, plus one. The whole batch is
// persisted before it becomes visible, so concurrent readers observe either
// none or all of it. A batch that adds and updates nothing fails.
func (p *Pool) UpsertBatch(ctx context.Context, candidates []AccountCandidate) (*BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	sizeBefore := len(p.entries)
	res := &BatchResult{}

	staged := make([]*Account, 0, len(candidates))
	stagedIDs := make(map[string]int) // id -> index in staged, later entries win

	for _, cand := range candidates {
		if cand.SessionToken == "" || cand.SessionIndex == "" || cand.ConfigID == "" {
			p.log.Warnf("skipping account candidate with incomplete credentials (id=%q email=%q)", cand.ID, cand.Email)
			res.Skipped++
			continue
		}

		id := cand.ID
		if id == "" {
			id = fmt.Sprintf("account_%d", sizeBefore+res.Added+1)
		}

		acct := &Account{
			ID:           id,
			Email:        cand.Email,
			SessionToken: cand.SessionToken,
			SessionIndex: cand.SessionIndex,
			ConfigID:     cand.ConfigID,
			Status:       StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		existing, exists := p.entries[id]
		if idx, dup := stagedIDs[id]; dup {
			// Same id twice in one batch: the later candidate wins and
			// does not recount.
			if cand.Status != "" {
				acct.Status = cand.Status
			} else {
				acct.Status = staged[idx].Status
			}
			acct.CreatedAt = staged[idx].CreatedAt
			staged[idx] = acct
			continue
		}

		if exists {
			existing.mu.Lock()
			prev := existing.acct
			acct.CreatedAt = prev.CreatedAt
			acct.FailureCount = prev.FailureCount
			acct.CooldownUntil = prev.CooldownUntil
			if cand.Status != "" {
				acct.Status = cand.Status
			} else {
				acct.Status = prev.Status
			}
			existing.mu.Unlock()
			res.Updated++
		} else {
			if cand.Status != "" {
				acct.Status = cand.Status
			}
			res.Added++
		}
		stagedIDs[id] = len(staged)
		staged = append(staged, acct)
	}

	if res.Added == 0 && res.Updated == 0 {
		return nil, NoEffectError("batch contained no usable accounts (%d skipped)", res.Skipped)
	}

	if p.repo != nil {
		if err := p.repo.SaveBatch(ctx, staged); err != nil {
			return nil, err
		}
	}

	for _, acct := range staged {
		if e, ok := p.entries[acct.ID]; ok {
			e.mu.Lock()
			e.acct = acct
			e.mu.Unlock()
		} else {
			p.entries[acct.ID] = &poolEntry{acct: acct}
		}
	}

	p.log.Infof("account batch merged: %d added, %d updated, %d skipped", res.Added, res.Updated, res.Skipped)
	return res, nil
}

// SelectEligible picks the least recently used account that is active, or
// cooling down with a lapsed deadline, and is not in the excluded set. A
// lapsed cooling account is reactivated as part of selection. It returns a
// snapshot of the chosen account.
func (p *Pool) SelectEligible(excluded map[string]struct{}) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *poolEntry
	var bestUsed uint64

	for id, e := range p.entries {
		if _, skip := excluded[id]; skip {
			continue
		}
		e.mu.Lock()
		ok := e.acct.Status == StatusActive ||
			(e.acct.Status == StatusCoolingDown && !e.acct.CooldownUntil.After(now))
		used := e.lastUsed
		e.mu.Unlock()
		if !ok {
			continue
		}
		if best == nil || used < bestUsed {
			best, bestUsed = e, used
		}
	}

	if best == nil {
		return nil, PoolExhaustedError("no eligible accounts available")
	}

	p.seq++
	best.mu.Lock()
	defer best.mu.Unlock()
	best.lastUsed = p.seq
	if best.acct.Status == StatusCoolingDown {
		best.acct.Status = StatusActive
		best.acct.CooldownUntil = time.Time{}
		best.acct.UpdatedAt = now
		p.log.Infof("account %s reactivated after cooldown", best.acct.ID)
	}
	return best.acct.Clone(), nil
}

// RecordSuccess resets the failure count of an account and reactivates it if
// it was cooling down. Disabled accounts stay disabled.
func (p *Pool) RecordSuccess(id string) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acct.FailureCount = 0
	e.acct.CooldownUntil = time.Time{}
	if e.acct.Status == StatusCoolingDown {
		e.acct.Status = StatusActive
	}
	e.acct.UpdatedAt = p.now()
}

// RecordFailure increments the failure count of an account. Reaching the
// threshold moves the account into cooling_down until now plus the cooldown
// window. Disabled accounts keep their status.
func (p *Pool) RecordFailure(id string, threshold int, cooldown time.Duration) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acct.FailureCount++
	e.acct.UpdatedAt = p.now()
	if e.acct.Status == StatusDisabled {
		return
	}
	if e.acct.FailureCount >= threshold {
		e.acct.Status = StatusCoolingDown
		e.acct.CooldownUntil = p.now().Add(cooldown)
		p.log.Warnf("account %s entered cooldown until %s after %d consecutive failures",
			id, e.acct.CooldownUntil.Format(time.RFC3339), e.acct.FailureCount)
	}
}

// SetStatus applies an operator lifecycle change and persists it. Enabling a
// disabled account also clears its failure state.
func (p *Pool) SetStatus(ctx context.Context, id string, status AccountStatus) (*Account, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return nil, NotFoundError("account %s not found", id)
	}

	if p.repo != nil {
		if err := p.repo.UpdateStatus(ctx, id, status); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acct.Status = status
	if status == StatusActive {
		e.acct.FailureCount = 0
		e.acct.CooldownUntil = time.Time{}
	}
	e.acct.UpdatedAt = p.now()
	return e.acct.Clone(), nil
}

// Delete removes one account from the pool.
func (p *Pool) Delete(ctx context.Context, id string) error {
	deleted, err := p.DeleteBatch(ctx, []string{id})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return NotFoundError("account %s not found", id)
	}
	return nil
}

// DeleteBatch removes the given accounts, skipping unknown ids, and returns
// how many were removed. Removing nothing fails.
func (p *Pool) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := p.entries[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return 0, NotFoundError("none of the %d accounts exist", len(ids))
	}

	if p.repo != nil {
		if _, err := p.repo.DeleteBatch(ctx, present); err != nil {
			return 0, err
		}
	}
	for _, id := range present {
		delete(p.entries, id)
	}
	p.log.Infof("deleted %d of %d requested accounts", len(present), len(ids))
	return len(present), nil
}

// PoolStats summarizes pool composition for logging and display.
type PoolStats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	CoolingDown int `json:"cooling_down"`
	Disabled    int `json:"disabled"`
}

// Stats returns counts by lifecycle state.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	var s PoolStats
	s.Total = len(entries)
	for _, e := range entries {
		e.mu.Lock()
		switch e.acct.Status {
		case StatusActive:
			s.Active++
		case StatusCoolingDown:
			s.CoolingDown++
		case StatusDisabled:
			s.Disabled++
		}
		e.mu.Unlock()
	}
	return s
}
