package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Process environment overrides.
const (
	EnvDatabaseURL       = "LOCKSTEP_DATABASE_URL"
	EnvPlan              = "LOCKSTEP_PLAN"
	EnvLogLevel          = "LOCKSTEP_LOG_LEVEL"
	EnvLogFormat         = "LOCKSTEP_LOG_FORMAT"
	EnvPingTimeout       = "LOCKSTEP_PING_TIMEOUT"
	EnvMaxOpenConns      = "LOCKSTEP_MAX_OPEN_CONNS"
	EnvReportS3AccessKey = "LOCKSTEP_REPORT_S3_ACCESS_KEY"
	EnvReportS3SecretKey = "LOCKSTEP_REPORT_S3_SECRET_KEY"
)

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func Bool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func Int(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}
