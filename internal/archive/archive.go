// Package archive moves finished and cold-tagged jobs into the cold
// partition: rows get archived_at, artifacts move to the cold bucket.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/db/repository"
	"github.com/swarmgrid/swarm-core/internal/storage"
	"github.com/swarmgrid/swarm-core/model"
)

type archiveStore interface {
	ArchiveEligible(ctx context.Context) ([]repository.ArchivedJob, error)
}

// Archive acts on two triggers: the hibernator's cold-tag signal and
// the final Shutdown, which archives everything eligible before exit.
type Archive struct {
	store   archiveStore
	objects storage.Storage
	sub     *bus.Subscription
	ack     func()
	trigger <-chan struct{}
	log     zerolog.Logger
}

type Options struct {
	Store   archiveStore
	Objects storage.Storage
	Sub     *bus.Subscription
	Ack     func()
	Trigger <-chan struct{}
	Log     zerolog.Logger
}

func New(opts Options) *Archive {
	return &Archive{
		store:   opts.Store,
		objects: opts.Objects,
		sub:     opts.Sub,
		ack:     opts.Ack,
		trigger: opts.Trigger,
		log:     opts.Log,
	}
}

// Run drives the archive off the event bus.
func (a *Archive) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var running bool

	for {
		event, err := a.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			a.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			return
		}
		switch event {
		case model.EventStartup:
			if !running {
				running = true
				go a.loop(loopCtx)
			}
		case model.EventRestart:
			if a.ack != nil {
				a.ack()
			}
		case model.EventShutdown:
			cancel()
			a.finalSweep()
			return
		}
	}
}

func (a *Archive) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.trigger:
			a.sweep(ctx)
		}
	}
}

// finalSweep archives everything eligible on the way down, bounded so
// shutdown cannot hang on a slow store or bucket.
func (a *Archive) finalSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	a.sweep(ctx)
}

func (a *Archive) sweep(ctx context.Context) {
	archived, err := a.store.ArchiveEligible(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("archive sweep failed")
		return
	}
	for _, job := range archived {
		for _, key := range job.ArtifactKeys {
			if err := a.objects.MoveToCold(ctx, key); err != nil {
				// Rows are already archived; the object move is retried
				// by the next sweep that sees the key still hot.
				a.log.Error().Err(err).
					Int64("job_id", job.JobID).
					Str("key", key).
					Msg("artifact relocation failed")
			}
		}
	}
	if len(archived) > 0 {
		a.log.Info().Int("jobs", len(archived)).Msg("jobs archived")
	}
}
