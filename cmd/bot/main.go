package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"gridworld.ai/internal/agent"
	"gridworld.ai/internal/observability"
	"gridworld.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional bot.toml")
		url        = flag.String("url", "", "coordinator ws url")
		name       = flag.String("name", "", "agent name")
		policy     = flag.String("policy", "", "movement policy: random|stay")
		seed       = flag.Int64("seed", 0, "random walk seed")
	)
	flag.Parse()

	logger := observability.NewLogger("bot")

	cfg := defaultBotConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadBotConfig(*configPath, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("config")
		}
	}
	// Flags win over the file when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.URL = *url
		case "name":
			cfg.Name = *name
		case "policy":
			cfg.Policy = *policy
		case "seed":
			cfg.Seed = *seed
		}
	})
	if err := cfg.validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	conn, welcome, err := ws.Dial(dialCtx, cfg.URL, cfg.Name, cfg.MaxQueue)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.URL).Msg("dial")
	}
	defer conn.Close()

	var p agent.Policy = agent.NewRandomWalk(cfg.Seed)
	if cfg.Policy == policyStay {
		p = agent.Stay{}
	}
	wk, err := agent.NewWorkerFromWelcome(welcome, p)
	if err != nil {
		logger.Fatal().Err(err).Msg("welcome")
	}
	log := logger.With().Str("agent_id", wk.ID()).Logger()
	log.Info().
		Stringer("pos", wk.Pos()).
		Uint64("step", welcome.Step).
		Int("step_rate_hz", welcome.StepParams.StepRateHz).
		Int("rows", welcome.Map.Rows).
		Int("cols", welcome.Map.Cols).
		Msg("WELCOME")

	err = agent.Serve(ctx, conn, agent.NewResponder(wk, log), log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session ended")
		os.Exit(1)
	}
	log.Info().Stringer("pos", wk.Pos()).Msg("bye")
}
