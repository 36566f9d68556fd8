package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"studyrag/internal/ai"
	"studyrag/internal/config"
	"studyrag/internal/model"
	mysqlClient "studyrag/internal/platform/mysql"
	rabbitmqClient "studyrag/internal/platform/rabbitmq"
	redisClient "studyrag/internal/platform/redis"
	"studyrag/internal/repository"
	"studyrag/internal/vectorstore"
	"studyrag/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Users          *repository.UserRepository
	RefreshTokens  *repository.RedisRefreshTokenStore
	LLMClient      *ai.OpenAICompatibleClient
	VectorStore    *vectorstore.Client
	AuditPublisher *rabbitmqClient.EventPublisher
	AuditWorker    *worker.AuditPersistWorker

	StartedAt time.Time
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
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.AuditEvent{}); err != nil {
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

	auditRepo := repository.NewAuditRepository(mysqlDB)
	auditWorker := worker.NewAuditPersistWorker(mqConn, auditRepo, cfg.RabbitMQ.AuditQueue)
	if err := auditWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start audit worker failed: %w", err)
	}

	return &App{
		Config: cfg,
		MySQL:  mysqlDB,
		Redis:  redisCli,
		MQConn: mqConn,

		Users:         repository.NewUserRepository(mysqlDB),
		RefreshTokens: repository.NewRedisRefreshTokenStore(redisCli),
		LLMClient: ai.NewOpenAICompatibleClient(ai.Config{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		}),
		VectorStore: vectorstore.NewClient(vectorstore.Config{
			BaseURL: cfg.Vector.BaseURL,
			APIKey:  cfg.Vector.APIKey,
		}),
		AuditPublisher: rabbitmqClient.NewEventPublisher(mqConn, cfg.RabbitMQ.AuditQueue),
		AuditWorker:    auditWorker,

		StartedAt: time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.AuditWorker != nil {
		a.AuditWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
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
