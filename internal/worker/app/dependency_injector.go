package wapp

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/jwt625/vidbridge/internal/libs/natsq"
	"github.com/jwt625/vidbridge/internal/staging"
	"github.com/jwt625/vidbridge/internal/worker/archive"
	"github.com/jwt625/vidbridge/internal/worker/engine"
	"github.com/jwt625/vidbridge/internal/worker/infra/config"
	"github.com/jwt625/vidbridge/internal/worker/service"
)

const cfgPath = "./configs/worker.yaml"

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	engine   engine.Engine

	transfers *staging.TransferStore
	svc       *service.Service
	server    *service.Server
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

func (di *dependencyInjector) Engine(ctx context.Context) engine.Engine {
	if di.engine == nil {
		cfg := di.Config().Engine

		switch cfg.Kind {
		case "mock":
			di.engine = engine.NewMock(cfg.MaxParallel)
			di.Logger().Info("using mock engine")
		default:
			eng, err := engine.NewFFmpeg(cfg.Binary, cfg.WorkDir)
			if err != nil {
				log.Fatalf("Engine ffmpeg: %+v", err)
			}
			di.engine = eng
			di.Logger().Info("using ffmpeg engine", slog.String("binary", cfg.Binary))
		}
	}
	return di.engine
}

func (di *dependencyInjector) TransferStore(ctx context.Context) *staging.TransferStore {
	if di.transfers == nil {
		di.transfers = staging.NewTransferStore(di.Config().Staging.TransferTTL)
	}
	return di.transfers
}

func (di *dependencyInjector) Service(ctx context.Context) *service.Service {
	if di.svc == nil {
		cfg := di.Config()
		di.svc = service.New(
			natsq.NewBus(di.NATSConn(ctx)),
			di.Engine(ctx),
			archive.ZipOpener{},
			di.TransferStore(ctx),
			service.Options{
				MaxMessageBytes: cfg.Limits.MaxMessageMb << 20,
				JobTimeout:      cfg.Engine.JobTimeout,
				ExtendedTimeout: cfg.Engine.ExtendedTimeout,
				TranscodeArgs:   cfg.Engine.Transcode,
			},
		)
	}
	return di.svc
}

func (di *dependencyInjector) Server(ctx context.Context) *service.Server {
	if di.server == nil {
		di.server = service.NewServer(di.NATSConn(ctx), di.Service(ctx))
	}
	return di.server
}
