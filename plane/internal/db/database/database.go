package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"minerfleet/plane/internal/db/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

/*
DBType 数据库类型
功能：设备注册表支持的存储引擎
*/
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypeMySQL    DBType = "mysql"
	DBTypePostgres DBType = "postgres"
)

/* SQLiteMemory 进程内 SQLite，测试与临时部署使用 */
const SQLiteMemory = ":memory:"

// Config 数据库连接配置
type Config struct {
	Type     DBType
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Charset  string

	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	LogLevel string
}

// DefaultConfig 返回默认 SQLite 配置
func DefaultConfig() *Config {
	return &Config{
		Type:            DBTypeSQLite,
		SQLitePath:      "./data/minerfleet.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
		Charset:         "utf8mb4",
		SSLMode:         "disable",
	}
}

/*
NewDatabase 创建数据库连接
功能：按类型构建 dialector，配置连接池
*/
func NewDatabase(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case DBTypeSQLite:
		dialector = buildSQLiteDialector(cfg)
	case DBTypeMySQL:
		dialector = buildMySQLDialector(cfg)
	case DBTypePostgres:
		dialector = buildPostgresDialector(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q, want sqlite/mysql/postgres", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   buildGormLogger(cfg.LogLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database [%s]: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	/* :memory: 每个连接是独立的库，必须限制为单连接 */
	if cfg.Type == DBTypeSQLite && cfg.SQLitePath == SQLiteMemory {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	zap.L().Named("database").Info("database connected", zap.String("type", string(cfg.Type)))
	return db, nil
}

// AutoMigrate 迁移设备注册表结构
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Device{}, &models.DeviceTag{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func buildSQLiteDialector(cfg *Config) gorm.Dialector {
	dbPath := cfg.SQLitePath
	if dbPath == "" {
		dbPath = "./data/minerfleet.db"
	}
	if dbPath == SQLiteMemory {
		return sqlite.Open(dbPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		zap.L().Named("database").Warn("create sqlite directory failed", zap.Error(err))
	}
	return sqlite.Open(dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
}

func buildMySQLDialector(cfg *Config) gorm.Dialector {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	charset := cfg.Charset
	if charset == "" {
		charset = "utf8mb4"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, port, cfg.DBName, charset)
	return mysql.Open(dsn)
}

func buildPostgresDialector(cfg *Config) gorm.Dialector {
	port := cfg.Port
	if port == 0 || port == 3306 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, port, cfg.User, cfg.Password, cfg.DBName, sslMode)
	return postgres.Open(dsn)
}

func buildGormLogger(level string) gormlogger.Interface {
	var logLevel gormlogger.LogLevel
	switch level {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}
	return gormlogger.Default.LogMode(logLevel)
}
