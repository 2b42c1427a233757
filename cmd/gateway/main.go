package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"telethu/global/config"
	"telethu/logger"
	mid "telethu/middleware"
	"telethu/module/identity"
	"telethu/service/chat"
	"telethu/service/kafka"
	"telethu/service/mgo"
	"telethu/service/natsx"
	"telethu/service/storage"
	redisx "telethu/service/storage/redis"
	"telethu/tools/ids"
)

func main() {
	config.Load()
	cfg := config.Global
	ids.SetNodeID(cfg.NodeID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := redisx.InitRedis(redisx.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		logger.Errorf("[main] redis init failed: %v", err)
		os.Exit(1)
	}
	if err := mgo.Init(ctx, mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}); err != nil {
		logger.Errorf("[main] mongo init failed: %v", err)
		os.Exit(1)
	}

	fabric, err := natsx.NewClient(natsx.Config{
		Servers: cfg.NatsServers,
		Name:    fmt.Sprintf("%s-%d", config.NodeTypeGateway, cfg.NodeID),
	})
	if err != nil {
		logger.Errorf("[main] nats connect failed: %v", err)
		os.Exit(1)
	}

	if err := kafka.InitKafkaClient(cfg.KafkaBrokers); err != nil {
		logger.Errorf("[main] kafka init failed: %v", err)
		os.Exit(1)
	}
	if err := kafka.InitSyncProducerFromClient(); err != nil {
		logger.Errorf("[main] kafka producer init failed: %v", err)
		os.Exit(1)
	}
	if err := kafka.EnsureTopic(cfg.KafkaBrokers, cfg.StorageTopic, 8); err != nil {
		logger.Warnf("[main] ensure topic %s: %v", cfg.StorageTopic, err)
	}

	store := identity.NewMongoStore(mgo.DB())
	router := chat.NewRouter(store, fabric, kafka.NewSink(cfg.StorageTopic), storage.GetManager(), chat.RouterConfig{
		AckTimeout:     cfg.AckTimeout,
		AckMaxAttempts: cfg.AckMaxAttempts,
		RecallWindow:   cfg.RecallWindow,
	})
	mgr := chat.NewConnManager(fmt.Sprintf("msg_gw-%d", cfg.NodeID))
	srv := chat.NewServer(router, mgr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	mid.GET(r, "/ws", srv.HandleWS, mid.RouteOpt{IsAuth: true})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Infof("[main] gateway listening on %s", addr)
		if err := r.Run(addr); err != nil {
			logger.Errorf("[main] http server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	mgr.Close()
	_ = fabric.Close()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = mgo.Close(shCtx)
	_ = redisx.CloseRedis()
}
