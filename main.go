package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	mongoutil "chatbus/data/database/mgo/mongoutil"
	"chatbus/global"
	"chatbus/guardian"
	"chatbus/logger"
	security "chatbus/middleware/security"
	"chatbus/module/chat/publish"
	"chatbus/module/chat/store"
	"chatbus/module/chat/tracking"
	"chatbus/service/bus"
	mgosvc "chatbus/service/mgo"
	storeredis "chatbus/service/storage/redis"
	"chatbus/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	if err := global.Load(*configPath); err != nil {
		logger.Errorf("load config: %v", err)
		return
	}
	ids.SetNodeID(global.Global.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBus, err := buildBus()
	if err != nil {
		logger.Errorf("bus init: %v", err)
		return
	}
	defer closeBus()

	mgosvc.StartAsync(ctx, &mongoutil.Config{
		URI:      global.Global.Mongo.URI,
		Database: global.Global.Mongo.Database,
	})
	if err := mgosvc.WaitReady(ctx); err != nil {
		logger.Errorf("mongo init: %v", err)
		return
	}
	chatStore := store.NewStore()

	trackStore, err := tracking.NewPgStore(ctx, global.Global.Postgres.URL)
	if err != nil {
		logger.Errorf("postgres init: %v", err)
		return
	}
	defer trackStore.Close()
	tracker := tracking.NewQuery(trackStore)

	publisher := publish.NewPublisher(b, chatStore, tracker, logger.Log)

	router := gin.New()
	router.Use(gin.Recovery())

	authed := router.Group("/", security.Middleware(security.DefaultOptions(global.JwtSecret())))

	// Read-only tracking snapshot for the authenticated user.
	authed.GET("/tracking", func(c *gin.Context) {
		userID := security.UserID(c)
		channelIDs, ok := parseIDList(c.QueryArray("channel_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad channel_id"})
			return
		}
		opts := tracking.DefaultOptions()
		opts.ChannelIDs = channelIDs
		opts.IncludeThreads = c.Query("include_threads") == "true"
		opts.IncludeMissingMemberships = c.Query("include_missing_memberships") == "true"
		report, err := tracker.Report(c.Request.Context(), guardian.AllowAll(userID), opts)
		if err != nil {
			logger.Error("tracking report", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"channels": report.Channels,
			"threads":  report.Threads,
		})
	})

	// Mark-read: advance the pointer, then republish tracking state.
	authed.POST("/read/:channel_id/:message_id", func(c *gin.Context) {
		userID := security.UserID(c)
		channelID, err1 := strconv.ParseInt(c.Param("channel_id"), 10, 64)
		messageID, err2 := strconv.ParseInt(c.Param("message_id"), 10, 64)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad id"})
			return
		}
		reqCtx := c.Request.Context()
		if err := trackStore.MarkRead(reqCtx, userID, channelID, messageID); err != nil {
			logger.Error("mark read", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
			return
		}
		err := publisher.PublishBulkUserTrackingState(reqCtx, guardian.AllowAll(userID),
			map[int64]map[string]any{
				channelID: {"last_read_message_id": messageID},
			})
		if err != nil {
			logger.Error("publish tracking state", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	addr := fmt.Sprintf(":%d", global.Global.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Infof("chatbus diagnostics listening on %s bus=%s", addr, global.Global.BusBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server", zap.Error(err))
	}
}

func buildBus() (bus.Bus, func(), error) {
	cfg := global.Global
	primary, closer, err := buildPrimaryBus(cfg)
	if err != nil {
		return nil, nil, err
	}

	// Optional Kafka firehose: mirror every publish for downstream
	// consumers while interactive delivery stays on the primary bus.
	if cfg.Kafka.Firehose && cfg.BusBackend != global.BusBackendKafka {
		kb, err := bus.NewKafkaBus(bus.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Seq:     sharedSequencer(cfg),
		})
		if err != nil {
			closer()
			return nil, nil, err
		}
		return &bus.Tee{Primary: primary, Secondary: kb}, func() {
			_ = kb.Close()
			closer()
		}, nil
	}
	return primary, closer, nil
}

func buildPrimaryBus(cfg global.AppConfig) (bus.Bus, func(), error) {
	switch cfg.BusBackend {
	case global.BusBackendRedis:
		if err := initRedis(cfg); err != nil {
			return nil, nil, err
		}
		return bus.NewRedisBus(storeredis.GetClient()), func() { _ = storeredis.Close() }, nil
	case global.BusBackendNats:
		nb, err := bus.NewNatsBus(bus.NatsConfig{
			Servers: cfg.Nats.Servers,
			Name:    cfg.Nats.Name,
			Seq:     sharedSequencer(cfg),
		})
		if err != nil {
			return nil, nil, err
		}
		return nb, nb.Close, nil
	case global.BusBackendKafka:
		kb, err := bus.NewKafkaBus(bus.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Seq:     sharedSequencer(cfg),
		})
		if err != nil {
			return nil, nil, err
		}
		return kb, func() { _ = kb.Close() }, nil
	default:
		return bus.NewMemoryBus(), func() {}, nil
	}
}

// sharedSequencer returns the Redis-backed sequencer when Redis is
// configured, so NATS/Kafka publishes keep cross-process gap detection.
// Without Redis the buses fall back to their process-local counters.
func sharedSequencer(cfg global.AppConfig) bus.Sequencer {
	if cfg.Redis.Addr == "" {
		return nil
	}
	if err := initRedis(cfg); err != nil {
		logger.Warn("redis sequencer unavailable, falling back to process-local ids", zap.Error(err))
		return nil
	}
	return bus.NewRedisSequencer(storeredis.GetClient())
}

func initRedis(cfg global.AppConfig) error {
	return storeredis.InitRedis(storeredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
}

func parseIDList(raw []string) ([]int64, bool) {
	var out []int64
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}
