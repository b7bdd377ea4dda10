package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	RetryBatchSize     int
	ReconcileBatchSize int
	ExpireBatchSize    int
	ReapBatchSize      int
	RotateBatchSize    int
	JobTimeout         time.Duration
	LockTTL            time.Duration
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		RetryBatchSize:     50,
		ReconcileBatchSize: 25,
		ExpireBatchSize:    100,
		ReapBatchSize:      500,
		RotateBatchSize:    50,
		JobTimeout:         30 * time.Second,
		LockTTL:            2 * time.Minute,
	}
}

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_RUN_INTERVAL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.RunInterval = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_RETRY_BATCH")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RetryBatchSize = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); v != "" {
		for _, job := range strings.Split(v, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = defaults.RetryBatchSize
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = defaults.ReconcileBatchSize
	}
	if c.ExpireBatchSize <= 0 {
		c.ExpireBatchSize = defaults.ExpireBatchSize
	}
	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = defaults.ReapBatchSize
	}
	if c.RotateBatchSize <= 0 {
		c.RotateBatchSize = defaults.RotateBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
