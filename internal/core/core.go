// Package core builds and runs the Core: it constructs the shared
// resources, subscribes every subsystem to the event bus, launches them,
// and sequences startup and shutdown.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/swarmgrid/swarm-core/internal/archive"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/cache/freecache"
	"github.com/swarmgrid/swarm-core/internal/config"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/internal/delivery"
	"github.com/swarmgrid/swarm-core/internal/dispatcher"
	"github.com/swarmgrid/swarm-core/internal/harvester"
	"github.com/swarmgrid/swarm-core/internal/hibernator"
	"github.com/swarmgrid/swarm-core/internal/pulse"
	"github.com/swarmgrid/swarm-core/internal/queue/jetstream"
	"github.com/swarmgrid/swarm-core/internal/receiver"
	"github.com/swarmgrid/swarm-core/internal/rpc"
	"github.com/swarmgrid/swarm-core/internal/scheduler"
	"github.com/swarmgrid/swarm-core/internal/service/logger"
	"github.com/swarmgrid/swarm-core/internal/shared"
	"github.com/swarmgrid/swarm-core/internal/storage/minio"
	"github.com/swarmgrid/swarm-core/internal/tracer"
	"github.com/swarmgrid/swarm-core/internal/util"
	"github.com/swarmgrid/swarm-core/internal/web"
	"github.com/swarmgrid/swarm-core/model"
)

// Run builds the Core and blocks until shutdown completes. It returns
// only on a construction failure or after the drain finishes.
func Run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.SERVICE_NAME)
	log := logger.Module("core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TRACE_URL != "" {
		stopTracer, err := tracer.InitTracer(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Warn().Err(err).Msg("tracer init failed, continuing without traces")
		} else {
			defer stopTracer()
		}
	}

	database, err := db.New(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	hotCache, err := freecache.NewFreeCache()
	if err != nil {
		return err
	}
	defer hotCache.ShutDown(ctx)

	objects, err := minio.NewMinioClient()
	if err != nil {
		return err
	}
	defer objects.ShutDown(ctx)

	broker, err := jetstream.NewJetStreamQueueClient()
	if err != nil {
		return err
	}
	defer broker.Shutdown()

	eventBus := bus.New()
	res := shared.New(cfg, database, eventBus, hotCache, objects, broker)

	// Signal channels between subsystems. Capacity one: a pending wake
	// already covers any number of triggers.
	wakeQueued := make(chan struct{}, 1)
	wakeIdle := make(chan struct{}, 1)
	archiveSignal := make(chan struct{}, 1)
	dispatchCh := make(chan model.Assigned, 64)

	broadcaster := pulse.New(eventBus)
	liveWindow := 3 * cfg.Timeouts.HEARTBEAT_INTERVAL

	recv := receiver.New(receiver.Options{
		Port:              cfg.PULSE_PORT,
		HeartbeatInterval: cfg.Timeouts.HEARTBEAT_INTERVAL,
		Statuses:          res.Repos.Workers,
		Assignments:       res.Repos.Assignments,
		Cache:             hotCache,
		Sub:               eventBus.Subscribe(),
		Ack:               eventBus.Ack,
		WakeIdle:          wakeIdle,
		Log:               res.Logger("receiver"),
	})

	sched := scheduler.New(scheduler.Options{
		Jobs:        res.Repos.Jobs,
		Workers:     res.Repos.Workers,
		Claims:      res.Repos.Assignments,
		Sub:         eventBus.Subscribe(),
		Ack:         eventBus.Ack,
		Ticks:       broadcaster.SubscribeTicks(pulse.Medium),
		WakeQueued:  wakeQueued,
		WakeIdle:    wakeIdle,
		Dispatch:    dispatchCh,
		StarveAfter: cfg.Timeouts.STARVE_AFTER,
		LiveWindow:  liveWindow,
		Log:         res.Logger("scheduler"),
	})

	harv := harvester.New(harvester.Options{
		Jobs:        res.Repos.Jobs,
		Assignments: res.Repos.Assignments,
		Results:     res.Repos.Results,
		Metrics:     res.Repos.Metrics,
		Logs:        res.Repos.Logs,
		Objects:     objects,
		Queue:       broker,
		Sub:         eventBus.Subscribe(),
		Ack:         eventBus.Ack,
		Log:         res.Logger("harvester"),
	})

	disp := dispatcher.New(dispatcher.Options{
		Jobs:        res.Repos.Jobs,
		Assignments: res.Repos.Assignments,
		Sub:         eventBus.Subscribe(),
		Ack:         eventBus.Ack,
		Assigned:    dispatchCh,
		AckTimeout:  cfg.Timeouts.ACK_TIMEOUT,
		Log:         res.Logger("dispatcher"),
	})

	syncSrv := rpc.NewSyncServer(res.Repos.Assignments, harv, disp, res.Logger("sync_stream"))
	disp.SetTransport(syncSrv)

	pushWorker := delivery.NewWorker(delivery.Options{
		Jobs:    res.Repos.Jobs,
		Results: res.Repos.Results,
		Pusher:  delivery.NewHTTPPusher(objects),
		Broker:  broker,
		Sub:     eventBus.Subscribe(),
		Ack:     eventBus.Ack,
		Log:     res.Logger("delivery"),
	})

	hib := hibernator.New(hibernator.Options{
		Workers:       res.Repos.Workers,
		Jobs:          res.Repos.Jobs,
		Assignments:   res.Repos.Assignments,
		Broker:        broker,
		Sub:           eventBus.Subscribe(),
		Ack:           eventBus.Ack,
		SweepInterval: cfg.Timeouts.SWEEP_INTERVAL,
		ParkAfter:     cfg.Timeouts.PARK_AFTER,
		ColdAfter:     cfg.Timeouts.COLD_AFTER,
		ArchiveSignal: archiveSignal,
		Log:           res.Logger("hibernator"),
	})

	arch := archive.New(archive.Options{
		Store:   res.Repos.Archive,
		Objects: objects,
		Sub:     eventBus.Subscribe(),
		Ack:     eventBus.Ack,
		Trigger: archiveSignal,
		Log:     res.Logger("archive"),
	})

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		recv.Run, sched.Run, harv.Run, disp.Run,
		pushWorker.Run, hib.Run, arch.Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	control := rpc.NewControlServer(eventBus, res.Repos.Jobs, res.Repos.Workers, res.Logger("control_rpc"))
	grpcServer := rpc.NewServer(cfg.CORE_HOST, cfg.CORE_PORT, control, syncSrv)
	go func() {
		log.Info().Int("port", cfg.CORE_PORT).Msg("grpc server started")
		if err := grpcServer.Serve(); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	webServer := web.NewServer(res, wakeQueued)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP_PORT),
		Handler:           otelhttp.NewHandler(webServer.Router(), "rest"),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("http server started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	// Every subscriber is attached; Startup is observed by all of them.
	go broadcaster.Start(ctx)

	if err := util.ListenControl(ctx, cfg.CONTROL_SOCKET, func(cmd string) string {
		switch strings.ToUpper(cmd) {
		case "RESTART":
			eventBus.Request(model.EventRestart)
			return "restart requested"
		case "SHUTDOWN":
			eventBus.Request(model.EventShutdown)
			return "shutdown requested"
		default:
			return "unknown command"
		}
	}); err != nil {
		log.Warn().Err(err).Msg("control socket unavailable")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("operator interrupt, requesting shutdown")
		eventBus.Request(model.EventShutdown)
	}()

	// Block until the bus closes, which only Shutdown does.
	waitForShutdown(ctx, eventBus)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info().Msg("all subsystems drained")
	case <-time.After(cfg.Timeouts.SHUTDOWN_GRACE):
		log.Warn().Msg("drain ceiling reached, forcing exit")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcServer.Stop()

	// Streams are closed; anything still bound to a worker did not
	// finish in time and goes back to the queue for the next start.
	if requeued, err := res.Repos.Assignments.ExpireAllActive(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("reverting active assignments failed")
	} else if requeued > 0 {
		log.Warn().Int("requeued", requeued).Msg("unfinished assignments requeued on shutdown")
	}
	cancel()
	return nil
}

// waitForShutdown blocks until the bus carries Shutdown or closes.
func waitForShutdown(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe()
	defer sub.Unsubscribe()
	for {
		event, err := sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			continue
		}
		if err != nil {
			return
		}
		if event == model.EventShutdown {
			return
		}
		// This subscriber counts toward the restart barrier too.
		if event == model.EventRestart {
			b.Ack()
		}
	}
}
