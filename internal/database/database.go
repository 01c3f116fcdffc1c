package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/procure-gin/internal/config"
	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置
func GetPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: 3600,
		ConnMaxIdleTime: 600,
	}
}

// Connect 连接数据库
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := BuildDSN(cfg)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := &PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	defaults := GetPoolConfig()
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = defaults.MaxIdleConns
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = defaults.MaxOpenConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}

	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// ConnectWithRetry 带重试的数据库连接
func ConnectWithRetry(cfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = Connect(cfg)
		if err == nil {
			return db, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	dialector := db.Dialector.Name()

	// SQLite 不支持 jsonb,手动建表用 TEXT 替代
	if dialector == "sqlite" || dialector == "sqlite3" {
		if err := createSQLiteTables(db); err != nil {
			return fmt.Errorf("failed to create SQLite tables: %w", err)
		}
	} else {
		if err := db.AutoMigrate(
			&model.RequisitionModel{},
			&model.BudgetCodeModel{},
			&model.AllocationModel{},
			&model.StateHistoryModel{},
			&model.DecisionRecordModel{},
			&model.EventModel{},
			&model.AuditLogModel{},
		); err != nil {
			return fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createSQLiteTables 为 SQLite 手动创建表
func createSQLiteTables(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS requisitions (
			id VARCHAR(64) PRIMARY KEY,
			number VARCHAR(32) NOT NULL UNIQUE,
			requester_id VARCHAR(64) NOT NULL,
			department VARCHAR(128),
			status VARCHAR(40) NOT NULL,
			requested_amount DECIMAL(20,2) NOT NULL,
			payment_method VARCHAR(16) NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			submitted_at DATETIME
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create requisitions table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS budget_codes (
			id VARCHAR(64) PRIMARY KEY,
			code VARCHAR(64) NOT NULL UNIQUE,
			description TEXT,
			department VARCHAR(128),
			total_budget DECIMAL(20,2) NOT NULL,
			used_budget DECIMAL(20,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			version INTEGER NOT NULL DEFAULT 1,
			created_by VARCHAR(64),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create budget_codes table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS budget_allocations (
			id VARCHAR(64) PRIMARY KEY,
			budget_code_id VARCHAR(64) NOT NULL,
			requisition_id VARCHAR(64) NOT NULL,
			amount DECIMAL(20,2) NOT NULL,
			actual_amount DECIMAL(20,2),
			status VARCHAR(32) NOT NULL,
			release_reason TEXT,
			allocated_at DATETIME NOT NULL,
			consumed_at DATETIME,
			released_at DATETIME
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create budget_allocations table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state_history (
			id VARCHAR(64) PRIMARY KEY,
			requisition_id VARCHAR(64) NOT NULL,
			from_status VARCHAR(40),
			to_status VARCHAR(40) NOT NULL,
			reason TEXT,
			operator VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create state_history table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS decision_records (
			id VARCHAR(64) PRIMARY KEY,
			requisition_id VARCHAR(64) NOT NULL,
			level INTEGER NOT NULL,
			target_level INTEGER,
			role VARCHAR(64) NOT NULL,
			actor VARCHAR(64) NOT NULL,
			action VARCHAR(32) NOT NULL,
			comment TEXT,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create decision_records table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(64) PRIMARY KEY,
			requisition_id VARCHAR(64) NOT NULL,
			type VARCHAR(48) NOT NULL,
			data TEXT NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			retry_count INTEGER DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(32) NOT NULL,
			resource_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(64),
			ip VARCHAR(45),
			user_agent TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	return nil
}

// CreateIndexes 创建数据库索引
func CreateIndexes(db *gorm.DB) error {
	dialector := db.Dialector.Name()

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_requisitions_status ON requisitions(status)",
		"CREATE INDEX IF NOT EXISTS idx_requisitions_requester ON requisitions(requester_id)",
		"CREATE INDEX IF NOT EXISTS idx_requisitions_department ON requisitions(department)",
		"CREATE INDEX IF NOT EXISTS idx_requisitions_created_at ON requisitions(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_budget_codes_department ON budget_codes(department)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_code_status ON budget_allocations(budget_code_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_requisition ON budget_allocations(requisition_id)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_allocated_at ON budget_allocations(allocated_at)",
		"CREATE INDEX IF NOT EXISTS idx_history_requisition ON state_history(requisition_id)",
		"CREATE INDEX IF NOT EXISTS idx_history_created_at ON state_history(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_requisition ON decision_records(requisition_id)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_actor ON decision_records(actor)",
		"CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)",
		"CREATE INDEX IF NOT EXISTS idx_events_requisition ON events(requisition_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id)",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// PostgreSQL 下给聚合 JSONB 建 GIN 索引
	if dialector == "postgres" {
		if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_requisitions_data_gin ON requisitions USING GIN (data)").Error; err != nil {
			return fmt.Errorf("failed to create idx_requisitions_data_gin: %w", err)
		}
	}

	return nil
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(db *gorm.DB) bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx) == nil
}
