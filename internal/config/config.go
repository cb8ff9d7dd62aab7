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
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	JobService struct {
		BaseURL              string `yaml:"baseUrl"`
		RequestTimeout       string `yaml:"requestTimeout"`
		PollInterval         string `yaml:"pollInterval"`
		MaxPollAttempts      int    `yaml:"maxPollAttempts"`
		PollTimeout          string `yaml:"pollTimeout"`
		MaxConsecutiveErrors int    `yaml:"maxConsecutiveErrors"`
		NumQuestions         int    `yaml:"numQuestions"`
		KeyframeInterval     int    `yaml:"keyframeInterval"`
		FullAnalysis         *bool  `yaml:"fullAnalysis"`
	} `yaml:"jobService"`
	Quiz struct {
		TTL             string  `yaml:"ttl"`
		SampleInterval  string  `yaml:"sampleInterval"`
		ResumeDelay     string  `yaml:"resumeDelay"`
		RewindSeconds   float64 `yaml:"rewindSeconds"`
		ChoiceTolerance float64 `yaml:"choiceTolerance"`
		RegionTolerance float64 `yaml:"regionTolerance"`
	} `yaml:"quiz"`
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
