package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const appID = "inventory"

type config struct {
	HTTPAddress string `envconfig:"http_address" default:":8080"`
	GRPCAddress string `envconfig:"grpc_address" default:":50051"`

	MySQLDSN     string `envconfig:"mysql_dsn" default:"root:root@tcp(localhost:3306)/inventory?parseTime=true"`
	MySQLMaxConn int    `envconfig:"mysql_max_conn" default:"50"`
	RedisAddr    string `envconfig:"redis_addr" default:"localhost:6379"`

	CodeTTL     time.Duration `envconfig:"code_ttl" default:"24h"`
	CodeRetries int           `envconfig:"code_retries" default:"5"`

	AuditInterval  time.Duration `envconfig:"audit_interval" default:"10m"`
	AuditWorkers   int           `envconfig:"audit_workers" default:"10"`
	HealthInterval time.Duration `envconfig:"health_interval" default:"15s"`

	LogLevel     string `envconfig:"log_level" default:"info"`
	LogFormat    string `envconfig:"log_format" default:"text"`
	OTLPEndpoint string `envconfig:"otlp_endpoint"`
}

func parseEnv() (*config, error) {
	c := new(config)
	if err := envconfig.Process(appID, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse env")
	}
	return c, nil
}

func newLogger(c *config) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
