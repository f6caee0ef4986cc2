package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"` // cache TTL for quiz definitions
	} `yaml:"quiz"`
	Attempt struct {
		DefaultDuration string `yaml:"default_duration"` // fallback when a quiz has no duration; empty means unlimited
		SweepInterval   string `yaml:"sweep_interval"`
		SweepBatch      int    `yaml:"sweep_batch"`
	} `yaml:"attempt"`
	Grading struct {
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	} `yaml:"grading"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
