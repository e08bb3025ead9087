package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	sdk "go.opentelemetry.io/otel"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/log"
	"github.com/caseflow-io/caseflow/internal/otel"
	"github.com/caseflow-io/caseflow/internal/profile"
	"github.com/caseflow-io/caseflow/internal/rest"
	"github.com/caseflow-io/caseflow/pkg/engine"
	logexporter "github.com/caseflow-io/caseflow/pkg/engine/exporter/log"
	caseflowotel "github.com/caseflow-io/caseflow/pkg/otel"
	"github.com/caseflow-io/caseflow/pkg/resource"
	"github.com/caseflow-io/caseflow/pkg/script/js"
	"github.com/caseflow-io/caseflow/pkg/storage/inmemory"
)

func main() {
	profile.InitProfile()
	log.Init()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	engineMetrics, err := caseflowotel.NewMetrics(sdk.Meter("caseflow-engine"))
	if err != nil {
		log.Error("Failed to create engine metrics: %s", err)
		os.Exit(1)
	}

	options := []engine.EngineOption{
		engine.EngineWithName(conf.Name),
		engine.EngineWithStorage(inmemory.NewStorage()),
		engine.EngineWithLogger(log.Logger().Named("engine")),
		engine.EngineWithExporter(logexporter.NewExporter(log.Logger().Named("audit"))),
		engine.EngineWithScriptRuntime(js.NewJsRuntime(appContext, conf.Engine.ScriptPoolMax, conf.Engine.ScriptPoolMin)),
		engine.EngineWithMetrics(engineMetrics),
	}
	if conf.Engine.Strict {
		options = append(options, engine.EngineWithStrictMode())
	}
	if conf.Engine.DirectoryFile != "" {
		data, err := os.ReadFile(conf.Engine.DirectoryFile)
		if err != nil {
			log.Error("Failed to read participant directory: %s", err)
			os.Exit(1)
		}
		directory, err := resource.LoadDirectory(data)
		if err != nil {
			log.Error("Failed to load participant directory: %s", err)
			os.Exit(1)
		}
		options = append(options, engine.EngineWithResourceManager(resource.NewManager(directory)))
	}
	eng := engine.NewEngine(options...)

	// Start the public API
	svr := rest.NewServer(&eng, conf)
	svr.Start()

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	svr.Stop(appContext)
	openTelemetry.Stop(appContext)
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
