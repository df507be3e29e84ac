package main

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"panelcal/internal/action"
	"panelcal/internal/agenda"
	"panelcal/internal/cache"
	"panelcal/internal/card"
	"panelcal/internal/clock"
	"panelcal/internal/config"
	"panelcal/internal/fetch"
	"panelcal/internal/gesture"
	"panelcal/internal/hass"
	"panelcal/internal/ics"
	appLog "panelcal/internal/log"
	"panelcal/internal/scheduler"
	"panelcal/internal/storage"
	"panelcal/internal/tui"
	"panelcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	logFile    string
	tui        bool
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.tui {
		// The terminal UI owns the screen; logs go to a file.
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			appLog.Error("failed to open log file", err, "path", flags.logFile)
			os.Exit(1)
		}
		defer f.Close()
		appLog.SetOutput(f)
	}
	defer appLog.Sync()

	appLog.Banner("panelcal", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"entities", len(conf.Entities),
		"ics_count", len(conf.ICS),
		"days_to_show", conf.DaysToShow,
		"show_past_events", conf.ShowPastEvents,
		"cache_minutes", conf.CacheDuration,
		"refresh", conf.RefreshCron,
		"storage", conf.Storage.Driver,
		"tui", flags.tui,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("panelcal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("panelcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	kv, err := storage.Open(conf.Storage)
	if err != nil {
		return err
	}
	defer kv.Close()

	clk := clock.Real()
	store := cache.New(kv, clk, conf.Cache.Namespace, conf.CacheTTL())
	appLog.Info("event cache ready", "namespace", store.Namespace(), "driver", conf.Storage.Driver)

	// Home Assistant serves calendar.* entities; ICS subscriptions serve
	// the entities named after them.
	var (
		hassClient *hass.Client
		services   card.ServiceCaller
		states     card.StateReader
		provider   *fetch.Mux
	)
	if conf.Hass.URL != "" {
		hassClient = hass.NewClient(conf.Hass.URL, conf.Hass.Token)
		services, states = hassClient, hassClient
		provider = fetch.NewMux(hassClient)
	} else {
		provider = fetch.NewMux(nil)
	}
	subs := make([]ics.Source, 0, len(conf.ICS))
	for _, s := range conf.ICS {
		subs = append(subs, ics.Source{ID: s.ID, URL: s.URL})
	}
	icsProvider := ics.NewProvider(ics.NewFetcher(conf.ICSCacheDir), subs)
	provider.Route(icsProvider.Has, icsProvider)

	var renderer card.Renderer = card.RendererFunc(func(v card.View) {
		appLog.Debug("card rendered", "state", v.State.String(), "days", len(v.Days), "items", agenda.Count(v.Days), "stale", v.Stale)
	})
	var tuiRenderer *tui.Renderer
	if flags.tui {
		tuiRenderer = tui.NewRenderer()
		renderer = tuiRenderer
	}

	c := card.New(card.Options{
		Config:   conf,
		Cache:    store,
		Fetcher:  fetch.New(provider),
		Renderer: renderer,
		Clock:    clk,
		States:   states,
	})

	if flags.once {
		if err := c.Trigger(ctx, card.TriggerForceRefresh); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c.View())
	}

	bus := gesture.NewBus()
	registry := gesture.NewRegistry(bus, clk)
	defer registry.Close()

	dispatcher := action.NewDispatcher(&card.Effects{
		Card:     c,
		Services: services,
		Nav:      bus,
		Open:     openLink,
	})

	sched := scheduler.New(conf.Location())
	if err := sched.Wire(ctx, c, conf); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		sched.Stop(stopCtx)
		c.Wait()
	}()

	if flags.tui {
		overlay := tui.NewOverlay()
		async := gesture.Async(dispatcher)
		defer async.Wait()
		machine := gesture.New(gesture.Options{
			Target:     "card",
			Tap:        action.Parse(conf.TapAction),
			Hold:       action.Parse(conf.HoldAction),
			Clock:      clk,
			Visuals:    overlay,
			Dispatcher: async,
		})
		registry.Track(machine)
		return tui.Run(ctx, tui.Options{
			Card:     c,
			Renderer: tuiRenderer,
			Machine:  machine,
			Overlay:  overlay,
			Bus:      bus,
		})
	}

	overlay := web.NewOverlay()
	machine := gesture.New(gesture.Options{
		Target:     "card",
		Tap:        action.Parse(conf.TapAction),
		Hold:       action.Parse(conf.HoldAction),
		Clock:      clk,
		Visuals:    overlay,
		Dispatcher: dispatcher,
	})
	registry.Track(machine)

	c.Async(ctx, card.TriggerVisible)
	return web.StartServer(ctx, web.NewServer(web.Options{
		Config:  conf,
		Card:    c,
		Machine: machine,
		Bus:     bus,
		Overlay: overlay,
		Context: ctx,
	}), conf.Listen)
}

// openLink hands url to the desktop opener, if there is one.
func openLink(ctx context.Context, url string) error {
	name := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	if _, err := exec.LookPath(name); err != nil {
		appLog.Info("no link opener available; link not opened", "url", url)
		return nil
	}
	return exec.CommandContext(ctx, name, url).Start()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", "/etc/panelcal/config.yaml", "Path to config file")
	pflag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pflag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info or error (overrides config if set)")
	pflag.StringVar(&cfg.logFile, "log-file", filepath.Join(os.TempDir(), "panelcal.log"), "Log file used while the terminal UI runs")
	pflag.BoolVar(&cfg.tui, "tui", false, "Show the card in the terminal instead of serving HTTP")
	pflag.BoolVar(&cfg.once, "once", false, "Fetch once, print the card view as JSON and exit")

	pflag.Parse()

	return cfg
}
