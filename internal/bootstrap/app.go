package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	googleauth "optimizer-backend/internal/auth"
	"optimizer-backend/internal/chat"
	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/llm"
	openai "optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/shared/server"
	"optimizer-backend/internal/shared/storage/db"
	"optimizer-backend/internal/shared/storage/object"
	localstore "optimizer-backend/internal/shared/storage/object/local"
	s3store "optimizer-backend/internal/shared/storage/object/s3"
)

var errDatabaseRequired = errors.New("DATABASE_URL is required")

// App holds shared dependencies.
type App struct {
	Config                config.Config
	Router                *gin.Engine
	DB                    *sql.DB
	Store                 object.ObjectStore
	Queue                 queue.Client
	LLM                   llm.Client
	DocumentsRepo         documents.DocumentsRepo
	OptimizationsRepo     optimizations.Repo
	DocumentsService      *documents.Service
	OptimizationsService  *optimizations.Service
	ChatService           *chat.Service
	OptimizationProcessor OptimizationProcessor
	DocumentsHandler      *documents.Handler
	OptimizationsHandler  *optimizations.Handler
	ChatHandler           *chat.Handler
	GoogleAuth            *googleauth.GoogleService
}

// OptimizationProcessor allows callers to override optimization processing for tests.
type OptimizationProcessor interface {
	ProcessOptimization(ctx context.Context, optimizationID string) error
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              app.Config,
		DocumentHandler:     app.DocumentsHandler,
		OptimizationHandler: app.OptimizationsHandler,
		ChatHandler:         app.ChatHandler,
		GoogleAuth:          app.GoogleAuth,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, errDatabaseRequired
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	// Lambda deploys run migrations out of band via cmd/migrate.
	if !db.IsLambdaRuntime() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("OPT_SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	var docRepo documents.DocumentsRepo
	var optRepo optimizations.Repo

	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		optRepo = &optimizations.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		optRepo = optimizations.NewMemoryRepo()
	}

	docSvc := &documents.Service{
		Store:           app.Store,
		Repo:            docRepo,
		StorageProvider: app.Config.ObjectStoreType,
	}

	llmClient := llm.Client(llm.PlaceholderClient{})
	if app.Config.LLMProvider == "openai" && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
		openaiClient, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), app.Config.LLMModel)
		if err != nil {
			return err
		}
		llmClient = openaiClient
	}

	optSvc := &optimizations.Service{
		Repo:          optRepo,
		DocRepo:       docRepo,
		Store:         app.Store,
		LLM:           llmClient,
		Queue:         app.Queue,
		Provider:      app.Config.LLMProvider,
		Model:         app.Config.LLMModel,
		MaxIterations: app.Config.MaxIterations,
		BulletCount:   app.Config.BulletCount,
	}

	chatSvc := &chat.Service{LLM: llmClient}

	googleAuthSvc := googleauth.NewGoogleService(
		app.Config.GoogleClientID,
		app.Config.GoogleClientSecret,
		app.Config.GoogleRedirectURL,
		app.Config.UIRedirectURL,
	)

	app.LLM = llmClient
	app.DocumentsRepo = docRepo
	app.OptimizationsRepo = optRepo
	app.DocumentsService = docSvc
	app.OptimizationsService = optSvc
	app.OptimizationProcessor = optSvc
	app.ChatService = chatSvc
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.OptimizationsHandler = optimizations.NewHandler(optSvc)
	app.ChatHandler = chat.NewHandler(chatSvc)
	app.GoogleAuth = googleAuthSvc

	return nil
}
