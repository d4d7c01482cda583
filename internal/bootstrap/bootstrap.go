package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/igdrones/ig-docs-backend/internal/config"
	"github.com/igdrones/ig-docs-backend/internal/documents"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/storage"
)

// NewLogger builds the process logger. An empty or unknown level means info.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// OpenDatabase connects through lib/pq and hands the pool to gorm.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialise gorm: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("db", cfg.DBName))
	return db, nil
}

// Models lists every table owned by this service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&workflows.WorkflowType{},
		&workflows.Workflow{},
		&workflows.Stage{},
		&documents.Document{},
		&documents.DocumentField{},
		&documents.DocumentVersion{},
		&documents.DocumentSignature{},
		&documents.OrphanedBlob{},
		&notifications.DeliveryLog{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}

// NewObjectStore returns the blob client selected by storage.driver.
func NewObjectStore(ctx context.Context, cfg *config.Config) (storage.S3Client, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryClient(), nil
	case "s3":
		awsCfg, err := cfg.AWS.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Client(awsCfg, storage.S3Options{
			Endpoint:     cfg.AWS.Endpoint,
			UsePathStyle: cfg.Storage.UsePathStyle,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// NewStorageProvider wraps the configured object store with document key rules.
func NewStorageProvider(client storage.S3Client, cfg config.StorageConfig) *documents.StorageProvider {
	return documents.NewStorageProvider(client, documents.StorageOptions{
		Bucket:        cfg.Bucket,
		UploadTimeout: cfg.UploadTimeout,
		PresignTTL:    cfg.PresignTTL,
		MaxReadBytes:  cfg.MaxUploadBytes,
	})
}
