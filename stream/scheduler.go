package stream

import (
	"context"
	"sync"
	"time"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/provider"
)

// Scheduler launches feed sessions at their scheduled start times and
// monitors their liveness. All sessions share one output queue, drained by
// a single downstream consumer.
type Scheduler struct {
	cfg     *config.Config
	client  *provider.Client
	entries []*ScheduleEntry

	// Out is the shared packet queue. N sessions push, one consumer pops.
	Out chan models.MarketPacket

	mu     sync.Mutex
	active []*Session

	log *logger.Log
}

// NewScheduler builds a scheduler over the given entries. Entries are
// assumed sorted ascending by start time (ScheduleEntries guarantees it).
func NewScheduler(cfg *config.Config, client *provider.Client, entries []*ScheduleEntry) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		entries: entries,
		Out:     make(chan models.MarketPacket, cfg.Channels.QueueBuffer),
		log:     logger.GetLogger(),
	}
}

// Entries exposes the schedule for display and catalog resolution.
func (sc *Scheduler) Entries() []*ScheduleEntry { return sc.entries }

// Run launches every not-yet-running entry at its start time, then polls
// session liveness until no active sessions remain or the context ends.
func (sc *Scheduler) Run(ctx context.Context) {
	log := sc.log.WithComponent("scheduler")
	log.WithFields(logger.Fields{"streams": len(sc.entries)}).Info("starting scheduler")

	for _, entry := range sc.entries {
		if entry.Running {
			continue
		}

		if wait := time.Until(entry.StartTime); wait > 0 {
			log.WithFields(logger.Fields{
				"stream":     entry.Name,
				"start_time": entry.StartTime.Format(time.RFC3339),
			}).Info("waiting for stream start")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		session := NewSession(sc.cfg, sc.client, entry.Name, entry.StreamFilter, sc.Out)
		if err := session.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"stream": entry.Name}).Error("failed to start session")
			continue
		}

		log.WithFields(logger.Fields{"stream": entry.Name, "id": session.UniqueID()}).Info("stream launched")
		entry.Running = true

		sc.mu.Lock()
		sc.active = append(sc.active, session)
		sc.mu.Unlock()
	}

	ticker := time.NewTicker(sc.cfg.Scheduler.LivenessInterval)
	defer ticker.Stop()

	for {
		sc.mu.Lock()
		remaining := len(sc.active)
		sc.mu.Unlock()
		if remaining == 0 {
			log.Info("all streams have ended")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.sweep()
		}
	}
}

// sweep stops and drops any session whose markets have all closed.
func (sc *Scheduler) sweep() {
	log := sc.log.WithComponent("scheduler")

	sc.mu.Lock()
	defer sc.mu.Unlock()

	alive := sc.active[:0]
	for _, session := range sc.active {
		if session.IsActive() {
			alive = append(alive, session)
			continue
		}
		log.WithFields(logger.Fields{"id": session.UniqueID()}).Info("stream has ended")
		session.Stop()
	}
	sc.active = alive
}

// Stop halts every active session. Running flags are left as they are.
// Idempotent.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, session := range sc.active {
		session.Stop()
	}
}

// Display resolves and logs the events each schedule entry matches. A
// read-only diagnostic used before committing to a live run.
func (sc *Scheduler) Display(ctx context.Context) error {
	log := sc.log.WithComponent("scheduler")
	log.Info("displaying scheduled streams")

	for _, entry := range sc.entries {
		log.WithFields(logger.Fields{
			"stream":     entry.Name,
			"start_time": entry.StartTime.Format(time.RFC3339),
		}).Info("scheduled stream")

		events, err := sc.client.ListEvents(ctx, entry.CatalogFilter)
		if err != nil {
			return err
		}

		log.WithFields(logger.Fields{"events": len(events)}).Info("found events")
		for _, result := range events {
			log.WithFields(logger.Fields{
				"event_id":     result.Event.ID,
				"event_name":   result.Event.Name,
				"country_code": result.Event.CountryCode,
				"open_date":    result.Event.OpenDate,
				"market_count": result.MarketCount,
			}).Info("matched event")
		}
	}
	return nil
}
