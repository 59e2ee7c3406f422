package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mongoutil "chatbus/data/database/mgo/mongoutil"
	"chatbus/logger"

	"go.mongodb.org/mongo-driver/mongo"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // closed once on first successful connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = MongoManager{readyCh: make(chan struct{})}

// StartAsync runs until ctx is done; it retries the initial connect with
// backoff and closes the ready channel on first success.
func StartAsync(ctx context.Context, cfg *mongoutil.Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
		)

		backoff := baseBackoff
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			cli, err := mongoutil.NewMongoDB(ctx, cfg)
			if err == nil {
				globalMgr.mu.Lock()
				globalMgr.client = cli
				globalMgr.mu.Unlock()
				globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
				logger.Infof("mongo connected database=%s", cfg.Database)
				<-ctx.Done()
				_ = cli.Close(context.Background())
				return
			}

			globalMgr.lastErr.Store(err)
			logger.Errorf("mongo connect failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

// WaitReady blocks until the first successful connect or ctx cancellation.
func WaitReady(ctx context.Context) error {
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		if err, ok := globalMgr.lastErr.Load().(error); ok {
			return err
		}
		return ctx.Err()
	}
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil
	}
	return globalMgr.client.GetDB()
}
