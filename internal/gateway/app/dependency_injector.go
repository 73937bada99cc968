package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/jwt625/vidbridge/internal/gateway/infra/config"
	"github.com/jwt625/vidbridge/internal/gateway/infra/progress"
	filestore "github.com/jwt625/vidbridge/internal/gateway/infra/store/file"
	taskstore "github.com/jwt625/vidbridge/internal/gateway/infra/store/task"
	"github.com/jwt625/vidbridge/internal/gateway/orchestrator"
	"github.com/jwt625/vidbridge/internal/gateway/transport"
	"github.com/jwt625/vidbridge/internal/gateway/usecase"
	"github.com/jwt625/vidbridge/internal/libs/fetch"
	"github.com/jwt625/vidbridge/internal/libs/mio"
	"github.com/jwt625/vidbridge/internal/libs/natsq"
	"github.com/jwt625/vidbridge/internal/libs/rediscli"
)

const cfgPath = "./configs/gateway.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

// FileStore is the full surface of a file backend; the usecase consumes a
// subset, the cleanup loop the rest.
type FileStore interface {
	usecase.FileStore
	CleanupOlderThan(ctx context.Context, border time.Time) (int, error)
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis     *redis.Client
	taskStore usecase.TaskStore

	fileStore FileStore

	natsConn  *nats.Conn
	converter usecase.Converter
	consumer  *progress.Consumer

	usecase transport.Usecase
	handler transport.Handler
	router  Router
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

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis connect: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) TaskStore(ctx context.Context) usecase.TaskStore {
	if di.taskStore == nil {
		di.taskStore = taskstore.NewRedisTaskStore(di.RedisClient(ctx))
	}
	return di.taskStore
}

func (di *dependencyInjector) FileStore(ctx context.Context) FileStore {
	if di.fileStore == nil {
		cfg := di.Config()

		switch cfg.Storage {
		case "minio":
			store, err := filestore.NewMinIOStore(ctx, mio.Config{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
				BasePath:        cfg.BaseDir,
			})
			if err != nil {
				log.Fatalf("FileStore minio: %+v", err)
			}
			di.fileStore = store
			di.Logger().Info("initialized MinIO file store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		default:
			store, err := filestore.NewLocalStore(cfg.BaseDir)
			if err != nil {
				log.Fatalf("FileStore local: %+v", err)
			}
			di.fileStore = store
			di.Logger().Info("initialized local file store", slog.String("base_dir", cfg.BaseDir))
		}
	}

	return di.fileStore
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

func (di *dependencyInjector) Converter(ctx context.Context) usecase.Converter {
	if di.converter == nil {
		cfg := di.Config()
		di.converter = orchestrator.New(
			natsq.NewBus(di.NATSConn(ctx)),
			fetch.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytesMb<<20),
			orchestrator.Options{MaxMessageBytes: cfg.MaxMessageMb << 20},
		)
	}
	return di.converter
}

func (di *dependencyInjector) ProgressConsumer(ctx context.Context) *progress.Consumer {
	if di.consumer == nil {
		di.consumer = progress.NewConsumer(di.NATSConn(ctx), di.TaskStore(ctx))
	}
	return di.consumer
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		di.usecase = usecase.New(
			ctx,
			cfg.TaskTTL,
			cfg.JobTimeout,
			di.TaskStore(ctx),
			di.FileStore(ctx),
			di.Converter(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}
