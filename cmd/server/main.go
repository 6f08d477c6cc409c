package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"gridworld.ai/internal/observability"
	persistlog "gridworld.ai/internal/persistence/log"
	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/tuning"
	"gridworld.ai/internal/sim/world"
	"gridworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite step index")
		maxSteps   = flag.Int("max_steps", -1, "override tuning max_steps (0 = run until stopped)")
	)
	flag.Parse()

	logger := observability.NewLogger("server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatal().Err(err).Str("path", tp).Msg("load tuning")
		}
		logger.Warn().Str("path", tp).Msg("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	if *maxSteps >= 0 {
		tune.MaxSteps = *maxSteps
	}

	g, err := grid.ParseLayout(tune.Map.Layout)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse map layout")
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)
	started := time.Now()
	runID := persistlog.RunID(started)

	// Optional: read-model index backend (does not affect negotiation).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("open index backend")
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(*worldID, tune); err != nil {
			logger.Warn().Err(err).Msg("index backend: upsert config")
		}
		if err := idx.BeginRun(runID); err != nil {
			logger.Fatal().Err(err).Msg("index backend: begin run")
		}
	}

	w, err := world.New(worldConfigFromTuning(*worldID, tune), g, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("world")
	}
	logger.Info().
		Str("map", tune.Map.Title).
		Int("rows", g.Rows()).
		Int("cols", g.Cols()).
		Int("vertices", g.Graph().VertexCount()).
		Int("edges", g.Graph().EdgeCount()).
		Msg("map loaded")

	ctx, cancel := signalContext()
	defer cancel()

	stepLog := persistlog.NewStepLog(worldDir, runID)
	defer func() {
		if err := stepLog.Close(); err != nil {
			logger.Error().Err(err).Msg("close step log")
		}
	}()
	sinks := world.StepLoggers{stepLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	w.SetStepLogger(sinks)
	logger.Info().Str("run_id", runID).Str("step_log", stepLog.Path()).Msg("run started")

	// The sinks above are closed by deferred calls; main waits on runDone so
	// they stay open until the last step has been written.
	runDone := runWorld(ctx, w, logger, func() {
		logger.Info().
			Str("steps", humanize.Comma(int64(w.CurrentStep()))).
			Str("logged", humanize.Comma(int64(stepLog.Entries()))).
			Str("uptime", humanize.RelTime(started, time.Now(), "", "")).
			Msg("world finished")
		cancel()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(*worldID, w, idx))

	if envBool("GRIDWORLD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			positions := map[string][2]int{}
			for id, p := range w.Positions() {
				positions[id] = p.Wire()
			}
			resp := struct {
				WorldID   string             `json:"world_id"`
				Step      uint64             `json:"step"`
				Metrics   world.WorldMetrics `json:"metrics"`
				Positions map[string][2]int  `json:"positions"`
				Layout    []string           `json:"layout"`
			}{
				WorldID:   *worldID,
				Step:      w.CurrentStep(),
				Metrics:   w.Metrics(),
				Positions: positions,
				Layout:    g.Layout(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Info().Msg("admin endpoints disabled (GRIDWORLD_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("GRIDWORLD_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		w.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", *addr).Str("world", *worldID).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("ListenAndServe")
	}
	cancel()
	<-runDone
}

// runWorld runs w in its own goroutine. The returned channel closes after Run
// has returned and finished has run, so no step is written after it closes.
func runWorld(ctx context.Context, w *world.World, logger zerolog.Logger, finished func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("world stopped")
		}
		if finished != nil {
			finished()
		}
	}()
	return done
}

func worldConfigFromTuning(id string, tune tuning.Tuning) world.WorldConfig {
	spawns := make([]grid.Pos, 0, len(tune.Map.Spawns))
	for _, s := range tune.Map.Spawns {
		spawns = append(spawns, grid.FromWire(s))
	}
	return world.WorldConfig{
		ID:           id,
		StepRateHz:   tune.StepRateHz,
		StepTimeout:  tune.StepTimeout(),
		PollBarrier:  tune.BarrierMode == tuning.BarrierPoll,
		PollInterval: tune.PollInterval(),
		MaxSteps:     tune.MaxSteps,
		MaxWorkers:   tune.MaxWorkers,
		Spawns:       spawns,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
