package main

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"MessageBox/global"
	"MessageBox/logger"
	"MessageBox/service/gateway"
	"MessageBox/service/kafka"
	"MessageBox/service/metrics"
	"MessageBox/service/natsx"
	"MessageBox/service/relay"
	"MessageBox/service/rpc"
	"MessageBox/service/storage"
	rds "MessageBox/service/storage/redis"
	"MessageBox/tools"
	"MessageBox/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("[main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// runner is a sink or server started next to the relay.
type runner func(ctx context.Context) error

func run(cfg global.AppConfig) error {
	ids.SetNodeID(int64(crc32.ChecksumIEEE([]byte(cfg.NodeId)) % 1024))
	if !tools.GetEnvBool("MESSAGEBOX_GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var svc *relay.Service
	obs := relay.Observers{relay.LogObserver{}}
	var runners []runner
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	m := metrics.New(func() relay.Stats { return svc.Stats() })
	obs = append(obs, m)

	// ---- redis presence ----
	if cfg.Redis.Addr != "" {
		rdb, err := rds.Open(ctx, rds.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		online := storage.NewOnlineStore(storage.NewRedisStore(rdb), storage.OnlineConfig{
			NodeID: cfg.NodeId,
			TTL:    cfg.UserTTL + cfg.ManageEvery,
		})
		obs = append(obs, online)
		runners = append(runners, func(ctx context.Context) error { online.Run(ctx); return nil })
		logger.Info("[main] presence mirror on", zap.String("redis", cfg.Redis.Addr))
	}

	// ---- nats events ----
	if len(cfg.Nats.Servers) > 0 {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers:  cfg.Nats.Servers,
			Name:     "messagebox-" + cfg.NodeId,
			User:     cfg.Nats.User,
			Password: cfg.Nats.Password,
		})
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = nc.Close() })
		mode := natsx.Core
		if cfg.Nats.JetStream {
			mode = natsx.JetStream
		}
		if err := natsx.RegisterEventRoutes(nc, cfg.Nats.Subject, mode); err != nil {
			return err
		}
		events := natsx.NewEventPublisher(natsx.NewNatsxProducer(nc), cfg.NodeId, 0)
		obs = append(obs, events)
		runners = append(runners, func(ctx context.Context) error { events.Run(ctx); return nil })
		logger.Info("[main] nats events on", zap.Strings("servers", cfg.Nats.Servers), zap.String("prefix", cfg.Nats.Subject))
	}

	// ---- kafka audit ----
	if len(cfg.Kafka.Brokers) > 0 {
		kc := kafka.Config{
			Brokers:            cfg.Kafka.Brokers,
			TopicPattern:       cfg.Kafka.TopicPattern,
			TopicCount:         cfg.Kafka.TopicCount,
			PartitionsPerTopic: cfg.Kafka.Partitions,
			ReplicationFactor:  cfg.Kafka.Replication,
			Compression:        cfg.Kafka.Compression,
			EnsureTopics:       cfg.Kafka.EnsureTopics,
		}
		kc.Norm()
		prod, err := kafka.NewAsyncProducer(kc)
		if err != nil {
			return err
		}
		audit := kafka.NewAudit(prod, cfg.NodeId, kafka.GenTopics(kc))
		closers = append(closers, audit.Close)
		obs = append(obs, audit)
		logger.Info("[main] kafka audit on", zap.Strings("brokers", kc.Brokers))
	}

	// ---- grpc health ----
	if cfg.GrpcHealthPort > 0 {
		h := rpc.NewHealth(cfg.Neighbours, func(peer string) bool { return svc.Neighbors().Established(peer) != nil })
		obs = append(obs, h)
		ln, err := net.Listen("tcp", net.JoinHostPort(cfg.ExternalIp, strconv.Itoa(cfg.GrpcHealthPort)))
		if err != nil {
			return err
		}
		runners = append(runners, func(ctx context.Context) error { return h.Serve(ctx, ln) })
	}

	svc = relay.NewService(relay.Options{
		NodeID:        cfg.NodeId,
		UserTTL:       cfg.UserTTL,
		HoldTTL:       cfg.HoldTTL,
		ManageEvery:   cfg.ManageEvery,
		MultiDeliver:  cfg.MultiDeliver,
		Senders:       cfg.Senders,
		InternalPort:  cfg.InternalPort,
		MaxNeighbours: cfg.MaxNeighbours,
		Neighbours:    cfg.Neighbours,
		Observer:      obs,
	})

	internal, err := net.Listen("tcp", cfg.InternalAddr())
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr: cfg.ExternalAddr(),
		Handler: gateway.New(svc, gateway.Options{
			AssetsDir: cfg.AssetsDir,
			Origins:   cfg.Origins,
			Metrics:   m.Handler(),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.ServeNeighbours(gctx, internal) })
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		logger.Info("[http] listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// parked receives hold connections open, cut them after the grace period
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("[http] shutdown", zap.Error(err))
			_ = httpSrv.Close()
		}
		return nil
	})
	for _, r := range runners {
		g.Go(func() error { return r(gctx) })
	}
	return g.Wait()
}
