package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/api"
	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/render"
	"github.com/zsiec/reel/internal/render/device"
	"github.com/zsiec/reel/internal/session"
	"github.com/zsiec/reel/internal/source"
	"github.com/zsiec/reel/player"
)

var version = "dev"

// cliKey is the session key of the resources named on the command line.
const cliKey = "cli"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flag.StringVar(&cfg.APIAddr, "api", cfg.APIAddr, "control API address; empty disables the API and exits when playback ends")
	flag.StringVar(&cfg.AudioOutput, "output", cfg.AudioOutput, "audio output: null or device")
	flag.StringVar(&cfg.PCMPath, "pcm", cfg.PCMPath, "write the null output's PCM to this file")
	flag.Float64Var(&cfg.Volume, "volume", cfg.Volume, "output volume in [0, 1]")
	flag.BoolVar(&cfg.Loop, "loop", cfg.Loop, "restart from the beginning at end of stream")
	flag.BoolVar(&cfg.APITLS, "tls", cfg.APITLS, "serve the API over HTTPS with a self-signed certificate")
	flag.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "fetch http(s) resources over HTTP/3")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg, flag.Args()); err != nil {
		slog.Error("reel failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, paths []string) error {
	if cfg.APIAddr == "" && len(paths) == 0 {
		return errors.New("nothing to do: no resources and no API address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srcOpts := source.Options{
		ChunkSize:  cfg.ChunkSize,
		SRTLatency: cfg.SRTLatency,
		Logger:     slog.Default(),
	}
	if cfg.HTTP3 {
		srcOpts.HTTPClient = source.HTTP3Client(nil)
	}
	factory := source.Factory(srcOpts)

	newPlayer := func(key string, paths []string, s player.Settings, out io.Writer) (*player.Player, error) {
		opts := []player.Option{
			player.WithID(key),
			player.WithMetrics(m),
			player.WithHandlerFactory(factory),
		}
		switch cfg.AudioOutput {
		case config.OutputDevice:
			opts = append(opts, player.WithAudioRenderer(device.New(nil)))
		default:
			opts = append(opts, player.WithAudioRenderer(render.NewNull(render.WithOutput(out))))
		}
		return player.New(paths, s, opts...)
	}

	// Opened ahead of the session manager so it is closed after every
	// player that may still write to it.
	var pcmOut io.Writer
	if len(paths) > 0 && cfg.PCMPath != "" {
		f, err := os.Create(cfg.PCMPath)
		if err != nil {
			return fmt.Errorf("creating pcm output: %w", err)
		}
		defer f.Close()
		pcmOut = f
	}

	sessions := session.NewManager(nil)
	defer func() {
		if err := sessions.CloseAll(); err != nil {
			slog.Warn("closing players", "error", err)
		}
	}()

	slog.Info("reel starting",
		"version", version,
		"api", cfg.APIAddr,
		"output", cfg.AudioOutput,
		"resources", len(paths),
	)

	g, ctx := errgroup.WithContext(ctx)

	if len(paths) > 0 {
		p, err := newPlayer(cliKey, paths, cfg.Settings(), pcmOut)
		if err != nil {
			return err
		}
		sessions.Create(cliKey, p, paths)

		ended := make(chan error, 1)
		p.AddObserver(player.ObserverFunc(func(ev player.Event) {
			switch ev := ev.(type) {
			case player.PlayEnd:
				select {
				case ended <- nil:
				default:
				}
			case player.ErrorEvent:
				select {
				case ended <- fmt.Errorf("playback: %s: %w", ev.Code, ev.Err):
				default:
				}
			case player.StateChanged:
				slog.Info("player state", "from", ev.From, "to", ev.To)
			}
		}))
		if err := p.Play(); err != nil {
			return err
		}
		if cfg.APIAddr == "" {
			g.Go(func() error {
				select {
				case err := <-ended:
					cancel()
					return err
				case <-ctx.Done():
					return nil
				}
			})
		}
	}

	if cfg.APIAddr != "" {
		apiSrv := &http.Server{
			Addr: cfg.APIAddr,
			Handler: api.New(api.Config{
				Sessions: sessions,
				NewPlayer: func(key string, paths []string, s player.Settings) (*player.Player, error) {
					return newPlayer(key, paths, s, nil)
				},
				Defaults: cfg.Settings(),
				Gatherer: reg,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.APITLS {
			cert, err := certs.Generate(0)
			if err != nil {
				return fmt.Errorf("generating certificate: %w", err)
			}
			apiSrv.TLSConfig = cert.ServerConfig()
			slog.Info("certificate generated",
				"fingerprint", cert.FingerprintHex(),
				"expires", cert.Leaf.NotAfter.Format(time.RFC3339),
			)
		}

		g.Go(func() error {
			slog.Info("API server listening", "addr", cfg.APIAddr, "tls", cfg.APITLS)
			var err error
			if cfg.APITLS {
				err = apiSrv.ListenAndServeTLS("", "")
			} else {
				err = apiSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
