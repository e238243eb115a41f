package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wavedirector.ai/internal/observability"
	persistlog "wavedirector.ai/internal/persistence/log"
	"wavedirector.ai/internal/persistence/mirror"
	"wavedirector.ai/internal/sim/arena"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/patterns"
	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/sim/population"
	"wavedirector.ai/internal/sim/spawn"
	"wavedirector.ai/internal/sim/tuning"
	"wavedirector.ai/internal/transport/admin"
	"wavedirector.ai/internal/transport/observer"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		policyPath = flag.String("policy", "", "policy path (overrides tuning policy_path)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides tuning data_dir)")
		adminAddr  = flag.String("admin_addr", "", "admin listen address (overrides tuning admin_addr)")
		obsAddr    = flag.String("observer_addr", "", "observer listen address (overrides tuning observer_addr)")
		seed       = flag.Int64("seed", 0, "director seed (overrides tuning seed when non-zero)")
		resume     = flag.Bool("resume", false, "resume from the last checkpoint in the data directory")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if s := strings.TrimSpace(*policyPath); s != "" {
		tune.PolicyPath = s
	}
	if s := strings.TrimSpace(*dataDir); s != "" {
		tune.DataDir = s
	}
	if s := strings.TrimSpace(*adminAddr); s != "" {
		tune.AdminAddr = s
	}
	if s := strings.TrimSpace(*obsAddr); s != "" {
		tune.ObserverAddr = s
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	tune.Journal = envBool("WD_JOURNAL", tune.Journal)
	tune.Index = envBool("WD_INDEX", tune.Index)
	tune.Checkpoint = envBool("WD_CHECKPOINT", tune.Checkpoint)
	if *resume {
		tune.Resume = true
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(tune, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	defer a.Close()

	if tune.WatchPolicy {
		w, err := policy.NewWatcher(tune.PolicyPath, time.Duration(tune.ReloadDebounceMs)*time.Millisecond)
		if err != nil {
			logger.Printf("policy watcher disabled: %v", err)
		} else {
			defer w.Close()
			go a.watch(ctx, w)
		}
	}

	go a.store.RunReaper(ctx, time.Duration(tune.ReapIntervalMs)*time.Millisecond)
	directorDone := make(chan struct{})
	go func() {
		defer close(directorDone)
		if err := a.director.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("director stopped: %v", err)
		}
	}()

	servers := []*http.Server{
		{Addr: tune.AdminAddr, Handler: a.adminMux(envBool("WD_ENABLE_PPROF_HTTP", false)), ReadHeaderTimeout: 5 * time.Second},
		{Addr: tune.ObserverAddr, Handler: a.observerMux(), ReadHeaderTimeout: 5 * time.Second},
	}
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Printf("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("ListenAndServe %s: %v", srv.Addr, err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx2)
	}
	<-directorDone
	logger.Printf("shutdown")
}

// app holds the wired runtime: population, placement, director and its
// observers.
type app struct {
	tune tuning.Tuning
	log  *log.Logger

	store    *population.Store
	director *director.Director
	hub      *observer.Hub
	metrics  *observability.DirectorCollector
	journal  *persistlog.Journal
	mirror   *mirror.Mirror
	index    runtimeIndex
}

func newApp(tune tuning.Tuning, logger *log.Logger) (*app, error) {
	cfg, err := policy.Load(tune.PolicyPath)
	if err != nil {
		return nil, err
	}
	a := &app{tune: tune, log: logger}

	a.store = population.New(cfg.Archetypes(), population.Options{
		TTL: time.Duration(tune.EntityTTLMs) * time.Millisecond,
	})
	bounds := tune.Arena
	anchor := tune.AnchorPoint()

	a.director, err = director.New(cfg, director.Options{
		Population: a.store,
		Placement:  arena.New(bounds, tune.Seed, nil),
		Patterns:   patterns.Builtin(),
		Anchor:     func() (spawn.Point, bool) { return anchor, true },
		Bounds:     &bounds,
		Control:    spawn.ControlSinkFunc(func(c spawn.Control) { a.hub.Control(c) }),
		OnStop:     a.saveCheckpoint,
		Seed:       tune.Seed,
		Log:        log.New(os.Stdout, "[director] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		return nil, err
	}
	a.hub = observer.NewHub(a.director, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))

	reg := prometheus.NewRegistry()
	a.metrics, err = observability.NewDirectorCollector(reg)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "director_observer_dropped_total",
		Help: "Stream messages dropped for slow observer clients.",
	}, func() float64 { return float64(a.hub.Dropped()) })); err != nil {
		return nil, err
	}
	a.director.AddObserver(a.metrics)

	if tune.Journal {
		a.journal = persistlog.NewJournal(tune.DataDir, logger)
		a.mirror, err = buildMirror(tune.DataDir, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.mirror != nil {
			a.journal.OnFileClosed(a.mirror.Enqueue)
			if err := registerMirrorMetrics(reg, a.mirror); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.director.AddObserver(a.journal)
	}

	a.index, err = openRuntimeIndex(tune.DataDir, tune.Index, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.index != nil {
		runID, err := a.index.BeginRun(tune.Seed, cfg.Digest())
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := registerIndexMetrics(reg, a.index); err != nil {
			a.Close()
			return nil, err
		}
		a.director.AddObserver(a.index)
		logger.Printf("index run_id=%d", runID)
	}
	a.director.AddObserver(a.hub)

	if tune.Resume {
		if err := a.restoreCheckpoint(); err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Printf("policy %s digest=%s archetypes=%d timeline=%d seed=%d",
		tune.PolicyPath, cfg.Digest(), len(cfg.ByArchetype), len(cfg.Timeline), tune.Seed)
	return a, nil
}

// reload re-reads the policy file and swaps it into the running director.
// New archetypes get a pool; the old config stays active on error.
func (a *app) reload() (string, error) {
	cfg, err := policy.Load(a.tune.PolicyPath)
	if err != nil {
		return "", err
	}
	for _, archetype := range cfg.Archetypes() {
		a.store.AddPool(archetype)
	}
	if err := a.director.Swap(cfg); err != nil {
		return "", err
	}
	return cfg.Digest(), nil
}

func (a *app) watch(ctx context.Context, w *policy.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			digest, err := a.reload()
			if err != nil {
				a.log.Printf("policy reload: %v (keeping current policy)", err)
				continue
			}
			a.log.Printf("policy reloaded digest=%s", digest)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.log.Printf("policy watcher: %v", err)
		}
	}
}

func (a *app) adminMux(enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", a.metrics.Handler())
	admin.New(a.director, admin.Options{Reload: a.reload, Log: a.log}).Register(mux)
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (a *app) observerMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", a.hub.StatusHandler())
	mux.HandleFunc("/v1/stream", a.hub.WSHandler())
	return mux
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Printf("index close: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Printf("journal close: %v", err)
		}
	}
	a.mirror.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
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
