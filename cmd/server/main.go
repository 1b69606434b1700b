package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/rl1809/unit-inventory/internal/adapter/handler"
	"github.com/rl1809/unit-inventory/internal/adapter/storage"
	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/core/service"
)

func main() {
	app := &cli.App{
		Name:  appID,
		Usage: "per-unit inventory tracking and reconciliation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mysql-dsn", Usage: "overrides INVENTORY_MYSQL_DSN"},
			&cli.StringFlag{Name: "redis-addr", Usage: "overrides INVENTORY_REDIS_ADDR"},
			&cli.StringFlag{Name: "log-level", Usage: "overrides INVENTORY_LOG_LEVEL"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and gRPC servers and the periodic audit",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: runMigrate,
			},
			{
				Name:  "audit",
				Usage: "run a consistency audit once and print the findings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "product", Usage: "audit a single product"},
					&cli.StringFlag{Name: "location", Usage: "restrict a single-product audit to one location"},
				},
				Action: runAudit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config, *logrus.Logger, error) {
	cfg, err := parseEnv()
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("mysql-dsn") {
		cfg.MySQLDSN = c.String("mysql-dsn")
	}
	if c.IsSet("redis-addr") {
		cfg.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openMySQL(ctx context.Context, cfg *config) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQLMaxConn)
	db.SetMaxIdleConns(cfg.MySQLMaxConn / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping mysql")
	}
	return db, nil
}

func runMigrate(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := storage.Migrate(cfg.MySQLDSN); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runAudit(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := openMySQL(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	auditor := service.NewConsistencyAuditor(storage.NewMySQLStore(db), cfg.AuditWorkers, logger)

	var reports []domain.ConsistencyReport
	if product := c.String("product"); product != "" {
		if report := auditor.Check(c.Context, product, c.String("location")); !report.OK() {
			reports = append(reports, report)
		}
	} else {
		reports = auditor.CheckAll(c.Context)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	if len(reports) > 0 {
		return cli.Exit("inconsistencies found", 1)
	}
	return nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	// Initialize MySQL
	db, err := openMySQL(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to connect redis")
	}
	logger.Info("connected to redis")

	// Initialize adapters and services
	store := storage.NewMySQLStore(db)
	redisAdapter := storage.NewRedisAdapter(rdb, cfg.CodeTTL)

	ids := service.NewIdentifierGenerator(redisAdapter, service.WithCodeRetries(cfg.CodeRetries))
	registry := service.NewUnitRegistry(store, ids, logger)
	reconciler := service.NewPurchaseReconciler(store, registry, logger)
	adjuster := service.NewStockAdjustmentEngine(store, registry, logger)
	overlay := service.NewReservationOverlay(store, registry, redisAdapter)
	auditor := service.NewConsistencyAuditor(store, cfg.AuditWorkers, logger)

	health := handler.NewHealthChecker(map[string]handler.Pinger{
		"mysql": store,
		"redis": redisAdapter,
	}, logger)

	// Start background workers
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		auditLoop(ctx, auditor, cfg.AuditInterval, logger)
	}()
	go func() {
		defer wg.Done()
		health.Run(ctx, cfg.HealthInterval)
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	go func() {
		logger.Infof("gRPC server listening on %s", cfg.GRPCAddress)
		if err := grpcServer.Serve(lis); err != nil {
			logger.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(registry, reconciler, adjuster, overlay, auditor, health, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	cancel()
	wg.Wait()
	logger.Info("workers stopped")
	return nil
}

// auditLoop runs a full consistency audit every interval. Findings are logged,
// never repaired.
func auditLoop(ctx context.Context, auditor *service.ConsistencyAuditor, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, interval)
		for _, report := range auditor.CheckAll(runCtx) {
			for _, issue := range report.Issues {
				logger.WithFields(logrus.Fields{
					"product_id": issue.ProductID,
					"location":   issue.Location,
					"line_id":    issue.LineID,
					"kind":       issue.Kind,
				}).Warn(issue.Error())
			}
		}
		cancel()
	}
}
