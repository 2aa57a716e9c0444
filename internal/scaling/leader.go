// Package scaling coordinates work that must run on exactly one of several
// gqlsubs replicas.
package scaling

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SchedulerLockID is the advisory lock guarding the custom event scheduler
const SchedulerLockID int64 = 0x67716C73_00000001 // "gqls" + 1

// Lock is a cluster-wide mutual exclusion primitive. TryAcquire is called
// repeatedly; once held it must also confirm the lock is still held.
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Close() error
}

// LeaderElector polls a Lock and reports leadership transitions.
type LeaderElector struct {
	lock          Lock
	lockName      string
	isLeader      bool
	isLeaderMu    sync.RWMutex
	checkInterval time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewLeaderElector creates a new leader elector. The lock name is used for
// logging.
func NewLeaderElector(lock Lock, lockName string) *LeaderElector {
	return &LeaderElector{
		lock:          lock,
		lockName:      lockName,
		checkInterval: 5 * time.Second,
	}
}

// Start begins the election loop. onBecomeLeader and onLoseLeadership run on
// the loop goroutine for every transition.
func (le *LeaderElector) Start(ctx context.Context, onBecomeLeader, onLoseLeadership func()) {
	log.Info().Str("lock", le.lockName).Msg("Starting leader election")

	ctx, le.cancel = context.WithCancel(ctx)
	le.done = make(chan struct{})
	go le.electionLoop(ctx, onBecomeLeader, onLoseLeadership)
}

// Stop ends the election loop and releases the lock if held.
func (le *LeaderElector) Stop(ctx context.Context) {
	if le.cancel == nil {
		return
	}
	le.cancel()
	<-le.done

	wasLeader := le.IsLeader()
	log.Info().Str("lock", le.lockName).Bool("was_leader", wasLeader).Msg("Stopping leader election")

	if wasLeader {
		if err := le.lock.Release(ctx); err != nil {
			log.Error().Err(err).Str("lock", le.lockName).Msg("Failed to release leader lock")
		} else {
			log.Info().Str("lock", le.lockName).Msg("Released leader lock")
		}
		le.setLeader(false)
	}
}

// IsLeader returns true if this instance currently holds the leader lock.
func (le *LeaderElector) IsLeader() bool {
	le.isLeaderMu.RLock()
	defer le.isLeaderMu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) setLeader(v bool) bool {
	le.isLeaderMu.Lock()
	defer le.isLeaderMu.Unlock()
	was := le.isLeader
	le.isLeader = v
	return was
}

func (le *LeaderElector) electionLoop(ctx context.Context, onBecomeLeader, onLoseLeadership func()) {
	defer close(le.done)

	ticker := time.NewTicker(le.checkInterval)
	defer ticker.Stop()

	le.tryAcquireLock(ctx, onBecomeLeader, onLoseLeadership)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			le.tryAcquireLock(ctx, onBecomeLeader, onLoseLeadership)
		}
	}
}

// tryAcquireLock treats an error as lost leadership; another replica may
// take over once the lock lapses.
func (le *LeaderElector) tryAcquireLock(ctx context.Context, onBecomeLeader, onLoseLeadership func()) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	acquired, err := le.lock.TryAcquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("lock", le.lockName).Msg("Failed to try leader lock")
		acquired = false
	}

	wasLeader := le.setLeader(acquired)

	switch {
	case acquired && !wasLeader:
		log.Info().Str("lock", le.lockName).Msg("Acquired leader lock - this instance is now the leader")
		if onBecomeLeader != nil {
			onBecomeLeader()
		}
	case !acquired && wasLeader:
		log.Warn().Str("lock", le.lockName).Msg("Lost leader lock - this instance is no longer the leader")
		if onLoseLeadership != nil {
			onLoseLeadership()
		}
	}
}
