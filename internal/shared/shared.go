// Package shared aggregates the handles every Core subsystem needs.
// Subsystems hold a *Resources; Resources holds no back-references.
package shared

import (
	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/cache"
	"github.com/swarmgrid/swarm-core/internal/config"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/internal/db/repository"
	"github.com/swarmgrid/swarm-core/internal/queue"
	"github.com/swarmgrid/swarm-core/internal/service/logger"
	"github.com/swarmgrid/swarm-core/internal/storage"
)

// Repositories groups the typed store operations.
type Repositories struct {
	Users       *repository.UserRepository
	Workers     *repository.WorkerRepository
	Jobs        *repository.JobRepository
	Assignments *repository.AssignmentRepository
	Results     *repository.ResultRepository
	Metrics     *repository.MetricRepository
	Logs        *repository.LogRepository
	Archive     *repository.ArchiveRepository
}

// Resources is the handle aggregator granting subsystems access to the
// store, bus, cache, storage, queue and logger.
type Resources struct {
	Cfg     *config.Config
	DB      *db.DB
	Bus     *bus.Bus
	Repos   Repositories
	Cache   cache.Cache
	Storage storage.Storage
	Queue   queue.Queue
}

func New(cfg *config.Config, database *db.DB, eventBus *bus.Bus, c cache.Cache, s storage.Storage, q queue.Queue) *Resources {
	return &Resources{
		Cfg: cfg,
		DB:  database,
		Bus: eventBus,
		Repos: Repositories{
			Users:       repository.NewUserRepository(database),
			Workers:     repository.NewWorkerRepository(database),
			Jobs:        repository.NewJobRepository(database),
			Assignments: repository.NewAssignmentRepository(database),
			Results:     repository.NewResultRepository(database),
			Metrics:     repository.NewMetricRepository(database),
			Logs:        repository.NewLogRepository(database),
			Archive:     repository.NewArchiveRepository(database),
		},
		Cache:   c,
		Storage: s,
		Queue:   q,
	}
}

// Logger returns the subsystem-tagged logger.
func (r *Resources) Logger(module string) zerolog.Logger {
	return logger.Module(module)
}
