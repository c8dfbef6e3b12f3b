package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zhifu/donation-flow/routes"
	"github.com/zhifu/donation-flow/services"
	"github.com/zhifu/donation-flow/storage"
	"github.com/zhifu/donation-flow/utils"
)

// 快照存储后端
const (
	backendMemory   = "memory"
	backendMySQL    = "mysql"
	backendDynamoDB = "dynamodb"
)

const purgeInterval = 10 * time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:   "donation-flow",
		Short: "Donation payment flow server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("config", cmd.Root().PersistentFlags().Lookup("config")); err != nil {
				return err
			}
			return loadConfig()
		},
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 优先从当前工作目录加载配置文件，再尝试执行文件目录
func loadConfig() error {
	setDefaults()
	viper.SetEnvPrefix("DONATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		return viper.ReadInConfig()
	}

	execDir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return fmt.Errorf("failed to get exec dir: %w", err)
	}

	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		viper.SetConfigFile(filepath.Join(execDir, "config.yaml"))
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Warning: no config file found, using defaults and environment: %v", err)
		}
	}
	return nil
}

func setDefaults() {
	def := services.DefaultConfig()

	viper.SetDefault("server.port", 9090)
	viper.SetDefault("mysql.host", "127.0.0.1")
	viper.SetDefault("mysql.port", 3306)
	viper.SetDefault("restoration.backend", backendMemory)
	viper.SetDefault("restoration.dynamodb.region", "us-east-1")
	viper.SetDefault("restoration.dynamodb.table", "donation-restoration")

	viper.SetDefault("fees.rate", def.Fees.Rate)
	viper.SetDefault("fees.base", def.Fees.Base)
	viper.SetDefault("hosted_fields.number", def.HostedFields.Number)
	viper.SetDefault("hosted_fields.cvv", def.HostedFields.CVV)
	viper.SetDefault("hosted_fields.expiration_date", def.HostedFields.ExpirationDate)
	viper.SetDefault("hosted_fields.postal_code", def.HostedFields.PostalCode)
	viper.SetDefault("google_pay.environment", def.GooglePay.Environment)
	viper.SetDefault("google_pay.merchant_id", "")
	viper.SetDefault("venmo.profile_id", "")
	viper.SetDefault("apple_pay.display_name", def.ApplePay.DisplayName)
	viper.SetDefault("paypal.upsell_container", def.PayPal.UpsellContainer)
	viper.SetDefault("recaptcha_enabled", def.RecaptchaEnabled)
	viper.SetDefault("restoration_ttl", def.RestorationTTL)
	viper.SetDefault("transport.submit_url", def.Transport.SubmitURL)
	viper.SetDefault("transport.thank_you_url", def.Transport.ThankYouURL)
	viper.SetDefault("transport.timeout", def.Transport.Timeout)
}

func databaseConfig() utils.DatabaseConfig {
	return utils.DatabaseConfig{
		Host:     viper.GetString("mysql.host"),
		Port:     viper.GetInt("mysql.port"),
		User:     viper.GetString("mysql.user"),
		Password: viper.GetString("mysql.password"),
		DBName:   viper.GetString("mysql.dbname"),
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the donation ledger and restoration tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.InitDatabase(databaseConfig()); err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			return utils.MigrateDatabase()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the donation page server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := services.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	// 数据库失败时仍然启动，只是不写捐款流水
	dbConnected := false
	if viper.GetString("mysql.dbname") != "" {
		if err := utils.InitDatabase(databaseConfig()); err != nil {
			log.Printf("Warning: Database connection failed: %v", err)
			log.Printf("Server will start without database connection, donation ledger disabled")
		} else {
			dbConnected = true
			log.Printf("Database connected successfully")
		}
	}

	store, err := restorationStore(ctx, cfg, dbConnected)
	if err != nil {
		return err
	}

	// 设置 Gin 为发布模式
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(routes.SecurityHeaders())

	var apiRoutes *routes.APIRoutes
	if dbConnected {
		apiRoutes = routes.NewAPIRoutes(cfg, utils.DB, store)
	} else {
		apiRoutes = routes.NewAPIRoutes(cfg, nil, store)
	}
	apiRoutes.SetupRoutes(router)

	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port) // 监听所有网络接口

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: server shutdown: %v", err)
		}
	}()

	log.Printf("Server running on http://localhost%s", addr)
	log.Printf("Server mode: %s, restoration backend: %s", gin.Mode(), viper.GetString("restoration.backend"))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// restorationStore 按配置选择 Venmo 快照存储
func restorationStore(ctx context.Context, cfg services.Config, dbConnected bool) (services.RestorationStore, error) {
	switch backend := viper.GetString("restoration.backend"); backend {
	case backendMemory, "":
		return storage.NewMemoryRestorationStore(), nil

	case backendMySQL:
		if !dbConnected {
			log.Printf("Warning: mysql restoration backend requested without database, falling back to memory")
			return storage.NewMemoryRestorationStore(), nil
		}
		store := storage.NewGormRestorationStore(utils.DB, cfg.RestorationTTL)
		go purgeLoop(ctx, store)
		return store, nil

	case backendDynamoDB:
		client, err := storage.NewDynamoClient(ctx, viper.GetString("restoration.dynamodb.region"))
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoRestorationStore(client, viper.GetString("restoration.dynamodb.table")), nil

	default:
		return nil, fmt.Errorf("unknown restoration backend %q", backend)
	}
}

// purgeLoop 定期清理过期快照
func purgeLoop(ctx context.Context, store *storage.GormRestorationStore) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Printf("Warning: purge restoration snapshots: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("DEBUG: purged %d expired restoration snapshots", n)
			}
		}
	}
}
