package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// bot.toml key mapping to worker settings.
type fileConfig struct {
	URL           string `toml:"url"`
	Name          string `toml:"name"`
	Policy        string `toml:"policy"`
	Seed          int64  `toml:"seed"`
	MaxQueue      int    `toml:"max_queue"`
	DialTimeoutMS int    `toml:"dial_timeout_ms"`
}

type botConfig struct {
	URL         string
	Name        string
	Policy      string
	Seed        int64
	MaxQueue    int
	DialTimeout time.Duration
}

const (
	policyRandom = "random"
	policyStay   = "stay"
)

func defaultBotConfig() botConfig {
	return botConfig{
		URL:         "ws://localhost:8080/v1/ws",
		Name:        "bot",
		Policy:      policyRandom,
		Seed:        time.Now().UnixNano(),
		MaxQueue:    8,
		DialTimeout: 10 * time.Second,
	}
}

// loadBotConfig overlays the keys present in the TOML file onto cfg.
func loadBotConfig(path string, cfg botConfig) (botConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return botConfig{}, fmt.Errorf("load bot config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return botConfig{}, fmt.Errorf("load bot config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("policy") {
		cfg.Policy = strings.ToLower(strings.TrimSpace(raw.Policy))
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("max_queue") {
		cfg.MaxQueue = raw.MaxQueue
	}
	if meta.IsDefined("dial_timeout_ms") {
		cfg.DialTimeout = time.Duration(raw.DialTimeoutMS) * time.Millisecond
	}
	return cfg, cfg.validate()
}

func (c botConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("bot config: url is empty")
	}
	if c.Policy != policyRandom && c.Policy != policyStay {
		return fmt.Errorf("bot config: unknown policy %q", c.Policy)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("bot config: dial timeout must be > 0")
	}
	return nil
}
