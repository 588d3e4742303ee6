// cmd/atc/main.go
//
// This is the entry point for the atc CLI.
//
// Usage:
//
//	atc                 run the engine in-process and open the console
//	atc -remote URL     open the console against a running "atc serve"
//	atc serve           run the engine headless behind the HTTP/WebSocket bridge
//	atc plan            print the generated plan as YAML
//
// Every mode reads .atc/config.yaml from the working directory (creating it
// on first run) and applies ATC_* environment overrides on top.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sourcegraph/conc/pool"

	"github.com/ajtruex/agenttrafficcontrol/internal/bridge"
	"github.com/ajtruex/agenttrafficcontrol/internal/config"
	"github.com/ajtruex/agenttrafficcontrol/internal/engine"
	"github.com/ajtruex/agenttrafficcontrol/internal/logbook"
	"github.com/ajtruex/agenttrafficcontrol/internal/logging"
	"github.com/ajtruex/agenttrafficcontrol/internal/mirror"
	"github.com/ajtruex/agenttrafficcontrol/internal/natsbus"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/rng"
	"github.com/ajtruex/agenttrafficcontrol/internal/transport"
	"github.com/ajtruex/agenttrafficcontrol/internal/tui"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

const shutdownTimeout = 3 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "console"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "plan", "console":
			cmd = args[0]
			args = args[1:]
		}
	}
	switch cmd {
	case "serve":
		runServe(args)
	case "plan":
		runPlan(args)
	default:
		runConsole(args)
	}
}

// simFlags are shared by every subcommand.
type simFlags struct {
	project string
	plan    string
	seed    string
	speed   float64
}

func (f *simFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.project, "project", "", "project directory holding .atc (defaults to cwd)")
	fs.StringVar(&f.plan, "plan", "", "plan to load: Calm, Rush or Web (overrides config)")
	fs.StringVar(&f.seed, "seed", "", "seed for the run (overrides config)")
	fs.Float64Var(&f.speed, "speed", 0, "speed multiplier (overrides config)")
}

// load initializes .atc and applies flag overrides on top of the config.
func (f *simFlags) load() *config.Config {
	project := f.project
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitDir(absoluteProject); err != nil {
		die("init .atc: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	sim := &cfg.Project.Simulation
	if f.plan != "" {
		name, err := plan.ParseName(f.plan)
		if err != nil {
			die("%v", err)
		}
		sim.Plan = string(name)
	}
	if f.seed != "" {
		sim.Seed = f.seed
	}
	if f.speed != 0 {
		if f.speed < 0 {
			die("-speed must be > 0")
		}
		sim.Speed = f.speed
	}
	return cfg
}

func newEngine(cfg *config.Config, logger engine.Logger) *engine.Engine {
	sim := cfg.Project.Simulation
	eng, err := engine.New(cfg.PlanName(), sim.Seed,
		engine.WithInterval(cfg.TickInterval()),
		engine.WithMaxConcurrent(sim.MaxConcurrent),
		engine.WithSignals(sim.Signals),
		engine.WithSpeed(sim.Speed),
		engine.WithRunning(cfg.Autostart()),
		engine.WithLogger(logger),
	)
	if err != nil {
		die("start engine: %v", err)
	}
	return eng
}

func openLogs(cfg *config.Config) (*logging.Logger, *logbook.Logbook) {
	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		die("open log: %v", err)
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		die("open journal: %v", err)
	}
	return logger, lb
}

func runConsole(args []string) {
	fs := flag.NewFlagSet("atc", flag.ExitOnError)
	var sim simFlags
	sim.register(fs)
	remote := fs.String("remote", "", "bridge URL of a running `atc serve` (e.g. http://127.0.0.1:8787)")
	_ = fs.Parse(args)

	cfg := sim.load()
	logger, lb := openLogs(cfg)
	defer logger.Close()
	defer lb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		tr   transport.Transport
		opts = []tui.AppOption{tui.WithLogbook(lb)}
	)
	if *remote != "" {
		dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := transport.Dial(dialCtx, *remote, transport.WithLogger(logger))
		dialCancel()
		if err != nil {
			logger.Printf("console: connect to %s: %v", *remote, err)
			tr = transport.NewFailed(fmt.Errorf("connect to %s: %w", *remote, err))
		} else {
			tr = conn
		}
		opts = append(opts, tui.WithRecording(false), tui.WithSource(*remote))
	} else {
		eng := newEngine(cfg, logger)
		tr = transport.NewLocal(ctx, eng, engine.WithLoopLogger(logger))
	}
	defer tr.Close()
	logger.Printf("console: attached to %s engine", sourceLabel(*remote))

	m := mirror.New(mirror.WithThrottle(cfg.MirrorThrottle()))
	p := tea.NewProgram(
		tui.NewApp(tr, m, opts...),
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)
	if _, err := p.Run(); err != nil {
		die("run console: %v", err)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("atc serve", flag.ExitOnError)
	var sim simFlags
	sim.register(fs)
	addr := fs.String("addr", "", "bridge listen address host:port (overrides config)")
	natsURL := fs.String("nats", "", "NATS server URL; enables publishing (overrides config)")
	start := fs.Bool("run", false, "start ticking even when simulation.autostart is false")
	_ = fs.Parse(args)

	cfg := sim.load()
	logger, lb := openLogs(cfg)
	defer logger.Close()
	defer lb.Close()

	settings := bridge.SettingsFromConfig(cfg)
	if *addr != "" {
		if err := settings.ParseAddress(*addr); err != nil {
			die("parse -addr: %v", err)
		}
		settings.Enabled = true
	}
	if *natsURL != "" {
		cfg.Project.NATS.URL = *natsURL
		cfg.Project.NATS.Enabled = true
	}
	natsCfg, natsEnabled := natsbus.ConfigFromProject(cfg)
	if !settings.Enabled && !natsEnabled {
		die("bridge and nats are both disabled; nothing to serve")
	}

	eng := newEngine(cfg, logger)
	hub := bridge.NewHub(eng.Snapshot, settings.QueueSize, logger)
	sinks := engine.Fanout{
		hub,
		engine.SinkFunc(func(msgs []protocol.Message) {
			for _, msg := range msgs {
				lb.Record(msg)
			}
		}),
	}
	var bus *natsbus.Bus
	if natsEnabled {
		var err error
		bus, err = natsbus.Connect(natsCfg, natsbus.WithLogger(logger))
		if err != nil {
			die("%v", err)
		}
		defer bus.Close()
		sinks = append(sinks, bus)
	}
	loop := engine.NewLoop(eng, sinks, engine.WithLoopLogger(logger))
	srv := bridge.NewServer(settings, loop, bridge.WithHub(hub), bridge.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *start && !eng.Running() {
		if err := loop.Send(ctx, protocol.SetRunning{Running: true}); err != nil {
			die("start engine: %v", err)
		}
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(loop.Run)
	if settings.Enabled {
		p.Go(func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("atc bridge listening on %s (plan %s, seed %q)\n",
				srv.BaseURL(), cfg.PlanName(), cfg.Project.Simulation.Seed)
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if bus != nil {
		p.Go(func(ctx context.Context) error {
			fmt.Printf("atc publishing on %s.* (intents on %s)\n",
				natsCfg.SubjectPrefix, bus.Subject(natsbus.IntentSubject))
			return bus.ServeIntents(ctx, loop)
		})
	}
	if err := p.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		die("serve: %v", err)
	}
	logger.Printf("serve: stopped at tick %d", eng.TickID())
}

func runPlan(args []string) {
	fs := flag.NewFlagSet("atc plan", flag.ExitOnError)
	var sim simFlags
	sim.register(fs)
	_ = fs.Parse(args)

	cfg := sim.load()
	seed := cfg.Project.Simulation.Seed
	generated, err := plan.Generate(cfg.PlanName(), seed, rng.New(seed))
	if err != nil {
		die("generate plan: %v", err)
	}
	data, err := generated.YAML()
	if err != nil {
		die("%v", err)
	}
	os.Stdout.Write(data)
}

func sourceLabel(remote string) string {
	if remote == "" {
		return "local"
	}
	return remote
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
