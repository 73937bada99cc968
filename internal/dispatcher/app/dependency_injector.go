package dapp

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jwt625/vidbridge/internal/dispatcher/dispatch"
	"github.com/jwt625/vidbridge/internal/dispatcher/infra/config"
	"github.com/jwt625/vidbridge/internal/dispatcher/workermgr"
	"github.com/jwt625/vidbridge/internal/libs/fetch"
	"github.com/jwt625/vidbridge/internal/libs/natsq"
	"github.com/jwt625/vidbridge/internal/protocol"
	"github.com/jwt625/vidbridge/internal/staging"
)

const cfgPath = "./configs/dispatcher.yaml"

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	bus      *natsq.Bus

	transfers *staging.TransferStore
	results   *staging.ResultStore

	workers    *workermgr.Manager
	dispatcher *dispatch.Dispatcher
	server     *dispatch.Server
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config()
		nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
		di.Logger().Info("connected to NATS", slog.String("url", cfg.NATS.URL))
	}
	return di.natsConn
}

func (di *dependencyInjector) Bus(ctx context.Context) *natsq.Bus {
	if di.bus == nil {
		di.bus = natsq.NewBus(di.NATSConn(ctx))
	}
	return di.bus
}

func (di *dependencyInjector) TransferStore(ctx context.Context) *staging.TransferStore {
	if di.transfers == nil {
		di.transfers = staging.NewTransferStore(di.Config().Staging.TransferTTL)
	}
	return di.transfers
}

func (di *dependencyInjector) ResultStore(ctx context.Context) *staging.ResultStore {
	if di.results == nil {
		cfg := di.Config()
		di.results = staging.NewResultStore(cfg.Limits.MaxMessageMb<<20, cfg.Staging.ResultTTL)
	}
	return di.results
}

func (di *dependencyInjector) WorkerManager(ctx context.Context) *workermgr.Manager {
	if di.workers == nil {
		cfg := di.Config()
		di.workers = workermgr.New(
			&natsPinger{bus: di.Bus(ctx), timeout: cfg.Worker.PingTimeout},
			&workermgr.ExecLauncher{Command: cfg.Worker.Command, Args: cfg.Worker.Args},
			workermgr.Options{
				PollInterval: cfg.Worker.PollInterval,
				PollAttempts: cfg.Worker.PollAttempts,
				ReadyWait:    cfg.Worker.ReadyWait,
			},
		)
	}
	return di.workers
}

func (di *dependencyInjector) Dispatcher(ctx context.Context) *dispatch.Dispatcher {
	if di.dispatcher == nil {
		cfg := di.Config()
		di.dispatcher = dispatch.New(
			di.Bus(ctx),
			di.WorkerManager(ctx),
			di.TransferStore(ctx),
			di.ResultStore(ctx),
			fetch.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytesMb<<20),
			dispatch.Options{
				MaxMessageBytes: cfg.Limits.MaxMessageMb << 20,
				Timeouts: dispatch.Timeouts{
					Job:         cfg.Timeouts.Job,
					ExtendedJob: cfg.Timeouts.ExtendedJob,
					ChunkAck:    cfg.Timeouts.ChunkAck,
				},
			},
		)
	}
	return di.dispatcher
}

func (di *dependencyInjector) Server(ctx context.Context) *dispatch.Server {
	if di.server == nil {
		di.server = dispatch.NewServer(di.NATSConn(ctx), di.Dispatcher(ctx), di.WorkerManager(ctx))
	}
	return di.server
}

// natsPinger probes the worker over its ping subject; any reply counts as
// alive.
type natsPinger struct {
	bus     *natsq.Bus
	timeout time.Duration
}

func (p *natsPinger) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.bus.Request(pingCtx, protocol.SubjectWorkerPing, []byte("ping"))
	return err
}
