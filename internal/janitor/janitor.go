// Package janitor runs the periodic maintenance sweep: expiring overdue
// pairings and pruning old audit events.
package janitor

import (
	"log"
	"time"

	"github.com/walletabi/relaygo/internal/store"
)

// Janitor owns the background sweep loop.
type Janitor struct {
	store     *store.Store
	interval  time.Duration
	retention time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(st *store.Store, interval, retention time.Duration) *Janitor {
	return &Janitor{
		store:     st,
		interval:  interval,
		retention: retention,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a restart
// after downtime cleans up without waiting a full interval.
func (j *Janitor) Start() {
	go func() {
		defer close(j.done)

		j.Sweep(time.Now().UnixMilli())

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.stop:
				return
			case now := <-ticker.C:
				j.Sweep(now.UnixMilli())
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep performs one maintenance pass at the given clock reading.
func (j *Janitor) Sweep(nowMs int64) {
	expired, err := j.store.ExpirePairings(nowMs)
	if err != nil {
		log.Printf("🧹 Janitor expire sweep failed: %v", err)
	} else if len(expired) > 0 {
		log.Printf("🧹 Janitor expired %d pairing(s)", len(expired))
	}

	pruned, err := j.store.PruneEvents(nowMs - j.retention.Milliseconds())
	if err != nil {
		log.Printf("🧹 Janitor event prune failed: %v", err)
	} else if pruned > 0 {
		log.Printf("🧹 Janitor pruned %d event(s)", pruned)
	}
}
