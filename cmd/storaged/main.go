package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telethu/global/config"
	"telethu/logger"
	"telethu/module/identity"
	"telethu/service/kafka"
	"telethu/service/mgo"
	"telethu/service/storage"
)

func main() {
	config.Load()
	cfg := config.Global

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgo.Init(initCtx, mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}); err != nil {
		logger.Errorf("[storaged] mongo init failed: %v", err)
		os.Exit(1)
	}
	store := identity.NewMongoStore(mgo.DB())

	ctx, stop := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Infof("[storaged] shutting down")
		stop()
	}()

	logger.Infof("[storaged] consuming topic=%s group=%s", cfg.StorageTopic, cfg.StorageGroup)
	if err := kafka.StartConsumerGroup(ctx, cfg.KafkaBrokers, cfg.StorageGroup,
		[]string{cfg.StorageTopic}, storage.DrainHandler(store)); err != nil {
		logger.Errorf("[storaged] consumer group: %v", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = mgo.Close(shCtx)
}
