// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/switchboard/pkg/compat"
	"github.com/kadirpekel/switchboard/pkg/config"
	"github.com/kadirpekel/switchboard/pkg/credentials"
	"github.com/kadirpekel/switchboard/pkg/logger"
	"github.com/kadirpekel/switchboard/pkg/observability"
	"github.com/kadirpekel/switchboard/pkg/pipeline"
	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/tokens"
	"github.com/kadirpekel/switchboard/pkg/transport"
	"github.com/kadirpekel/switchboard/pkg/upstream"
)

const (
	repairCacheSize = 1000

	shutdownTimeout = 10 * time.Second
)

// ServeCmd starts the broker.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, loader, err := loadConfig(cli, c.Watch)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	log := logger.GetLogger()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	engine := routing.NewEngine(cfg.RoutingConfig(),
		routing.WithRecorder(observability.RouteRecorder{Recorder: obs.Recorder()}))

	store := credentials.NewStore(cfg.Auth.Dir)
	up := upstream.New(upstream.WithCredentialStore(store))

	est, err := cfg.Estimator()
	if err != nil {
		return fmt.Errorf("failed to build token estimator: %w", err)
	}

	coordOpts := []pipeline.Option{
		pipeline.WithPreprocessor(tokens.NewPreprocessor(est, cfg.TokenOptions())),
		pipeline.WithModelLimits(cfg.ModelLimits()),
		pipeline.WithSettings(compat.SettingsFromEnv()),
		pipeline.WithLogger(log),
		pipeline.WithStageRecorder(observability.StageRecorder{Recorder: obs.Recorder()}),
	}
	if config.CachePreprocessingEnabled() {
		coordOpts = append(coordOpts, pipeline.WithCache(pipeline.NewCache(repairCacheSize)))
	}
	coord := pipeline.New(engine, up, coordOpts...)

	addrs := []string{cfg.Server.Addr()}
	for _, port := range cfg.Server.ExtraPorts {
		addrs = append(addrs, fmt.Sprintf("%s:%d", cfg.Server.Host, port))
	}

	var gws []*transport.Gateway
	for _, addr := range addrs {
		gw, err := transport.NewGateway(addr, coord, engine,
			transport.WithLogger(log),
			transport.WithCredentialStore(store),
			transport.WithMetrics(obs.Metrics()),
			transport.WithTracer(obs.Tracer()),
			transport.WithVersion(buildVersion()),
		)
		if err != nil {
			return err
		}
		gws = append(gws, gw)
	}

	fmt.Printf("\nswitchboard ready\n")
	for _, addr := range addrs {
		fmt.Printf("   Messages:  http://%s/v1/messages\n", addr)
	}
	fmt.Printf("   Health:    http://%s/health\n", addrs[0])
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:   http://%s%s\n", addrs[0], cfg.Observability.Metrics.Endpoint)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:   %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range gws {
		gw := gw
		g.Go(func() error { return gw.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for _, gw := range gws {
			if err := gw.Stop(shutdownCtx); err != nil {
				log.Error("gateway stop failed", "error", err)
			}
		}
		return nil
	})
	return g.Wait()
}

// loadConfig resolves the config source from the CLI flags. Without --config
// the broker refuses to start; there is no meaningful zero-config routing
// table.
func loadConfig(cli *CLI, watch bool) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}

	configType, err := config.ParseConfigType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type:      configType,
		Path:      cli.Config,
		Endpoints: cli.Endpoints,
		Watch:     watch,
	})
	if err != nil {
		return nil, nil, err
	}

	if watch {
		// Routing and provider tables are snapshotted at startup; a change
		// event only reports that a restart would pick it up.
		loader.SetOnChange(func(*config.Config) error {
			slog.Info("configuration changed on source; restart to apply")
			return nil
		})
	}

	slog.Info("loaded configuration", "source", configType, "path", cli.Config)
	return cfg, loader, nil
}
