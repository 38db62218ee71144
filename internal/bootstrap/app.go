package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"staffchat/internal/backend"
	"staffchat/internal/config"
	"staffchat/internal/model"
	mysqlClient "staffchat/internal/platform/mysql"
	rabbitmqClient "staffchat/internal/platform/rabbitmq"
	redisClient "staffchat/internal/platform/redis"
	"staffchat/internal/queue"
	ragpkg "staffchat/internal/rag"
	"staffchat/internal/repository"
	"staffchat/internal/token"
	"staffchat/internal/worker"
)

type App struct {
	Config      *config.Config
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Deployments map[string]backend.Deployment

	RAGQueue     *queue.JobQueue
	SummaryQueue *queue.JobQueue
	StatusStore  *ragpkg.StatusStore
	Counter      *token.ExactCounter

	IndexWorker     *worker.IndexWorker
	TurnEventWorker *worker.TurnEventWorker

	StartedAt    time.Time
	cancelWorker context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Chat{},
		&model.ChatThread{},
		&model.Exchange{},
		&model.Document{},
		&model.RAGIndexEntry{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	deployments, err := backend.ResolveAll(cfg.Deployments)
	if err != nil {
		return nil, fmt.Errorf("resolve deployments failed: %w", err)
	}
	if len(deployments) == 0 {
		return nil, fmt.Errorf("no enabled deployments configured")
	}
	if _, ok := deployments[cfg.Azure.Default]; !ok {
		return nil, fmt.Errorf("default deployment %q is not configured", cfg.Azure.Default)
	}

	ragQueue, err := queue.New(cfg.RAGWorkspace())
	if err != nil {
		return nil, fmt.Errorf("init rag workspace failed: %w", err)
	}
	summaryQueue, err := queue.New(cfg.SummaryWorkspace())
	if err != nil {
		return nil, fmt.Errorf("init summary workspace failed: %w", err)
	}
	statusStore := ragpkg.NewStatusStore(cfg.RAGWorkspace().Status)

	counter, err := token.NewExactCounter()
	if err != nil {
		// estimates still work; only the oversize boundary loses precision
		log.Printf("exact tokenizer unavailable, falling back to estimates: %v", err)
		counter = nil
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)

	indexWorker := worker.NewIndexWorker(
		ragQueue,
		repository.NewDocumentRepository(mysqlDB),
		repository.NewRAGIndexRepository(mysqlDB),
		statusStore,
		cfg.RAG,
		counter,
	)
	go indexWorker.Run(workerCtx, 2*time.Second)

	turnEventWorker := worker.NewTurnEventWorker(mqConn, cfg.RabbitMQ.TurnEventQueue, cfg.RAGWorkspace().Logs)
	if err := turnEventWorker.Start(workerCtx); err != nil {
		cancelWorker()
		return nil, fmt.Errorf("start turn event worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		Deployments:     deployments,
		RAGQueue:        ragQueue,
		SummaryQueue:    summaryQueue,
		StatusStore:     statusStore,
		Counter:         counter,
		IndexWorker:     indexWorker,
		TurnEventWorker: turnEventWorker,
		StartedAt:       time.Now(),
		cancelWorker:    cancelWorker,
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.cancelWorker != nil {
		a.cancelWorker()
	}
	if a.TurnEventWorker != nil {
		a.TurnEventWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
