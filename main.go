package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis/v3"
	"github.com/urfave/cli/v2"
	"github.com/zenithcms/sentinel/internal/anomaly"
	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/internal/auth"
	"github.com/zenithcms/sentinel/internal/common"
	"github.com/zenithcms/sentinel/internal/config"
	"github.com/zenithcms/sentinel/internal/devices"
	"github.com/zenithcms/sentinel/internal/handlers/api"
	"github.com/zenithcms/sentinel/internal/middlewares"
	"github.com/zenithcms/sentinel/internal/notify"
	"github.com/zenithcms/sentinel/internal/store"
	"github.com/zenithcms/sentinel/internal/token"
	"github.com/zenithcms/sentinel/internal/users"
	"github.com/zenithcms/sentinel/model"
	"github.com/zenithcms/sentinel/params"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "sentinel - security audit trail and anomaly detection service"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Printf("sentinel commit=%s date=%s\n", gitCommit, gitDate)
				return nil
			},
		},
		{
			Name:   "purge-audit",
			Usage:  "Delete audit events past the retention window and exit",
			Action: runPurgeAudit,
		},
		{
			Name:  "create-admin",
			Usage: "Create an administrator account",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Required: true},
				&cli.StringFlag{Name: "email", Required: true},
				&cli.StringFlag{Name: "password", Usage: "generated when omitted"},
			},
			Action: runCreateAdmin,
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	// audit queries are read-heavy; fan them out to replicas when configured
	if len(dbConfig.ReplicaDsns) > 0 {
		replicas := make([]gorm.Dialector, 0, len(dbConfig.ReplicaDsns))
		for _, dsn := range dbConfig.ReplicaDsns {
			replicas = append(replicas, mysql.Open(dsn))
		}
		if err := db.Use(dbresolver.Register(dbresolver.Config{Replicas: replicas})); err != nil {
			slog.Error("Failed to register read replicas", "error", err)
			os.Exit(1)
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		if dbConfig.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
		}
		if dbConfig.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
		}
		if dbConfig.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
		}
		if dbConfig.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
		}
	}

	if err := db.AutoMigrate(model.Models...); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	return db
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

func mustInitNotifier(notifyCfg config.NotifyConfig, admins notify.AdminDirectory) *notify.Dispatcher {
	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     notifyCfg.SMTP.Host,
		Port:     notifyCfg.SMTP.Port,
		Username: notifyCfg.SMTP.Username,
		Password: notifyCfg.SMTP.Password,
		TLS:      notifyCfg.SMTP.TLS,
		CertFile: notifyCfg.SMTP.CertFile,
		KeyFile:  notifyCfg.SMTP.KeyFile,
		CAFile:   notifyCfg.SMTP.CAFile,
	}, notifyCfg.From)
	if err != nil {
		slog.Error("Failed to initialize SMTP sender", "error", err)
		os.Exit(1)
	}
	return notify.NewDispatcher(sender, admins)
}

func loadConfigFromCLI(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return nil, err
	}
	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name))
	return cfg, nil
}

func runPurgeAudit(ctx *cli.Context) error {
	cfg, err := loadConfigFromCLI(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(cfg.MySQL)
	auditService := audit.NewService(audit.NewEventRepository(db))
	deleted, err := auditService.PurgeOlderThan(ctx.Context, cfg.Audit.RetentionDays)
	if err != nil {
		return err
	}
	slog.Info("Audit retention sweep finished", "deleted", deleted, "retentionDays", cfg.Audit.RetentionDays)
	return nil
}

func runCreateAdmin(ctx *cli.Context) error {
	cfg, err := loadConfigFromCLI(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(cfg.MySQL)
	userService := users.NewUserService(users.NewUserRepository(db))

	password := ctx.String("password")
	generated := password == ""
	if generated {
		if password, err = common.GenerateSecret(20); err != nil {
			return err
		}
	}
	user, err := userService.CreateUser(ctx.Context, users.CreateUserOptions{
		Username: ctx.String("username"),
		Email:    ctx.String("email"),
		Password: password,
		Role:     model.RoleAdmin,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created admin %s (id %d)\n", user.Username, user.ID)
	if generated {
		fmt.Printf("Generated password: %s\n", password)
	}
	return nil
}

// startRetentionSweeper prunes expired audit events once a day until the
// context is cancelled.
func startRetentionSweeper(ctx context.Context, auditService *audit.Service, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := auditService.PurgeOlderThan(ctx, retentionDays)
			if err != nil {
				slog.Error("Audit retention sweep failed", "error", err)
				continue
			}
			slog.Info("Audit retention sweep finished", "deleted", deleted)
		}
	}
}

func setupAPIRoutes(
	router fiber.Router,
	authService *auth.Service,
	deviceRegistry *devices.Registry,
	auditService *audit.Service,
) {
	var (
		authHandler   = api.NewAuthHandler(authService)
		deviceHandler = api.NewDeviceHandler(deviceRegistry, authService)
		auditHandler  = api.NewAuditHandler(auditService)
	)

	root := router.Group("/api/v1")
	root.Post("/auth/login", authHandler.PostLogin)
	root.Post("/auth/refresh", authHandler.PostRefresh)

	authed := root.Group("", middlewares.Authenticate(authService))
	authed.Post("/auth/logout", authHandler.PostLogout)
	authed.Get("/devices", deviceHandler.GetDevices)
	authed.Post("/devices/:deviceId/deactivate", deviceHandler.PostDeactivateDevice)
	authed.Post("/devices/:deviceId/trust", deviceHandler.PostTrustDevice)
	authed.Delete("/devices/:deviceId", deviceHandler.DeleteDevice)

	admin := authed.Group("", middlewares.AdminOnly())
	admin.Post("/users/:userId/force-logout", authHandler.PostForceLogout)
	admin.Get("/audit/events", auditHandler.GetEvents)
	admin.Get("/audit/traces/:traceId", auditHandler.GetTrace)
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfigFromCLI(ctx)
	if err != nil {
		return err
	}

	db := mustInitDatabase(cfg.MySQL)
	redisStorage := mustInitRedisStorage(cfg.Redis)
	cacheStorage := store.NewRedisStorage(redisStorage.Conn())

	// repositories
	var (
		userRepo   = users.NewUserRepository(db)
		eventRepo  = audit.NewEventRepository(db)
		deviceRepo = devices.NewDeviceRepository(db)
	)

	// services
	var (
		userService    = users.NewUserService(userRepo)
		auditService   = audit.NewService(eventRepo)
		deviceRegistry = devices.NewRegistry(deviceRepo)
		anomalyEngine  = anomaly.NewEngine(auditService)
		tokenManager   = token.NewManager(token.Config{
			AccessSecret:  cfg.Token.AccessSecret,
			RefreshSecret: cfg.Token.RefreshSecret,
			AccessTTL:     cfg.Token.AccessTTL,
			RefreshTTL:    cfg.Token.RefreshTTL,
		}, cacheStorage)
		notifier    = mustInitNotifier(cfg.Notify, userService)
		authService = auth.NewService(tokenManager, userService, deviceRegistry, anomalyEngine, auditService, notifier)
	)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Device-ID",
	}))

	setupAPIRoutes(router, authService, deviceRegistry, auditService)

	serverCtx, term := context.WithCancel(ctx.Context)
	go startRetentionSweeper(serverCtx, auditService, cfg.Audit.RetentionDays)

	done := make(chan struct{})
	go common.StartHealthCheckServer(serverCtx, done, redisStorage.Conn(), db)
	defer func() {
		term()
		<-done
	}()
	return router.Listen(cfg.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
