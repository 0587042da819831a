// Command gatewayd runs the market-data proxy and simulated execution
// engine as a single process: ProxyServer, ExecutionEngine, Scheduler, and
// the REST read surface share one Bus and one Store.
//
// Grounded on the feed simulator's cmd/feedsim/main.go: context with
// signal-driven cancellation, component construction in dependency order,
// graceful HTTP shutdown via srv.Shutdown inside a goroutine watching
// ctx.Done().
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ndrandal/marketgateway/internal/archive"
	"github.com/ndrandal/marketgateway/internal/authport"
	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/broker/simulated"
	"github.com/ndrandal/marketgateway/internal/bus"
	"github.com/ndrandal/marketgateway/internal/execengine"
	"github.com/ndrandal/marketgateway/internal/procconfig"
	"github.com/ndrandal/marketgateway/internal/proxy"
	"github.com/ndrandal/marketgateway/internal/restapi"
	"github.com/ndrandal/marketgateway/internal/scheduler"
	"github.com/ndrandal/marketgateway/internal/store"
	"github.com/ndrandal/marketgateway/internal/symbol"
)

func main() {
	cfg := procconfig.Load()

	zlog := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zlog.Info().Msg("gateway starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		zlog.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	contracts := symbol.DemoContracts()
	resolver := symbol.NewResolver(contracts)

	b := bus.New(cfg.BusQueueDepth)

	st, err := store.New(ctx, cfg.MongoURI, b, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("connect to mongodb")
	}
	defer st.Close(context.Background())

	if err := st.Migrate(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("migrate indexes")
	}

	gwCfg, err := st.GetConfig(ctx)
	if err != nil {
		zlog.Fatal().Err(err).Msg("load gateway config")
	}
	if err := st.SaveConfig(ctx, gwCfg); err != nil {
		zlog.Warn().Err(err).Msg("persist default gateway config")
	}

	simCfg := simulated.Config{Seed: cfg.SimBrokerSeed}
	factory := broker.Factory(func(ctx context.Context, userID, brokerName string) (broker.Client, error) {
		return simulated.New(resolver, contracts, simCfg, zlog), nil
	})

	auth := authport.NewStaticPort(map[string]authport.Identity{
		"demo-key": {UserID: "demo-user", BrokerName: "simulated"},
	})

	proxySrv := proxy.New(ctx, auth, factory, b, proxy.Config{OutboxCapacity: cfg.ProxyOutboxCap}, zlog)
	defer proxySrv.Shutdown()

	quoteGateway := execengine.NewQuoteGateway(factory, func(userID string) string { return "simulated" })
	defer quoteGateway.Close(context.Background())

	engineCfg := execengine.Config{
		CheckIntervalMs: gwCfg.CheckIntervalMs,
		MTMIntervalMs:   gwCfg.MTMIntervalMs,
		Leverage:        gwCfg.Leverage(),
	}
	engine := execengine.New(st, quoteGateway, resolver, engineCfg, zlog)
	go engine.Run(ctx)

	sched := scheduler.New(zlog)
	squareOffSpecs, settlementSpec, capitalResetSpec, err := scheduler.Schedules(gwCfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("build scheduler specs")
	}
	for exchange, spec := range squareOffSpecs {
		job := &scheduler.SquareOffJob{Exchange: exchange, Engine: engine, Store: st}
		if err := sched.AddJob(spec, job); err != nil {
			zlog.Fatal().Err(err).Str("exchange", exchange).Msg("register square-off job")
		}
	}
	settlementJob := &scheduler.SettlementJob{Store: st}
	if err := sched.AddJob(settlementSpec, settlementJob); err != nil {
		zlog.Fatal().Err(err).Msg("register settlement job")
	}
	if err := sched.RunNow(settlementJob); err != nil {
		zlog.Warn().Err(err).Msg("catch-up settlement failed")
	}
	capitalResetJob := &scheduler.CapitalResetJob{Store: st}
	if err := sched.AddJob(capitalResetSpec, capitalResetJob); err != nil {
		zlog.Fatal().Err(err).Msg("register capital reset job")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			zlog.Error().Err(err).Msg("load aws config, archival disabled")
		} else {
			s3Client := s3.NewFromConfig(awsCfg)
			archiver := archive.New(st.DB(), s3Client, cfg.S3Bucket, cfg.S3Prefix,
				time.Duration(cfg.ArchiveIntervalHours)*time.Hour,
				time.Duration(cfg.ArchiveAfterHours)*time.Hour,
				zlog)
			go archiver.Run(ctx)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", proxySrv.Handler())
	restapi.New(st, proxySrv).Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	zlog.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal().Err(err).Msg("server error")
	}

	zlog.Info().Msg("gateway stopped")
}
