package mgo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	URI         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize uint64
}

var (
	mgoOnce sync.Once
	mgoDB   *mongo.Database
	mgoCli  *mongo.Client
)

// Init 建立 Mongo 连接（单例），失败直接返回错误由 main 决定退出。
func Init(ctx context.Context, cfg Config) error {
	var initErr error
	mgoOnce.Do(func() {
		opts := options.Client().ApplyURI(cfg.URI)
		if cfg.MaxPoolSize > 0 {
			opts.SetMaxPoolSize(cfg.MaxPoolSize)
		}
		if cfg.Username != "" {
			opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
		}

		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		cli, err := mongo.Connect(cctx, opts)
		if err != nil {
			initErr = err
			return
		}
		if err := cli.Ping(cctx, readpref.Primary()); err != nil {
			initErr = err
			return
		}
		mgoCli = cli
		mgoDB = cli.Database(cfg.Database)
	})
	return initErr
}

// DB 获取默认数据库
func DB() *mongo.Database {
	if mgoDB == nil {
		panic("mongo not initialized, call mgo.Init first")
	}
	return mgoDB
}

func Close(ctx context.Context) error {
	if mgoCli != nil {
		return mgoCli.Disconnect(ctx)
	}
	return nil
}
