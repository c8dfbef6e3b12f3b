package utils

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zhifu/donation-flow/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DatabaseConfig MySQL连接参数
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DSN 构建连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

func InitDatabase(cfg DatabaseConfig) error {
	// 根据环境调整日志级别
	logLevel := logger.Info
	if os.Getenv("GO_ENV") == "production" {
		logLevel = logger.Error // 生产环境只记录错误
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			LogLevel: logLevel,
		},
	)

	var err error
	log.Printf("Attempting to connect to database: %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)

	DB, err = gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		log.Printf("Connection details: host=%s, port=%d, user=%s, dbname=%s", cfg.Host, cfg.Port, cfg.User, cfg.DBName)
		return err
	}

	log.Printf("Database connection successful!")

	// 配置数据库连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to get database: %v", err)
		return err
	}

	sqlDB.SetMaxIdleConns(15)
	sqlDB.SetMaxOpenConns(120)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	// 迁移只在 migrate 命令中执行
	return nil
}

// MigrateDatabase 手动执行数据库迁移
func MigrateDatabase() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	log.Println("Starting database migration...")
	if err := DB.AutoMigrate(
		&models.Donation{},
		&models.RestorationSnapshot{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("Database migration completed successfully!")
	return nil
}
