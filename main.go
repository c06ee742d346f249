package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/client"
	"github.com/cppla/punchclock/config"
	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/realtime"
	"github.com/cppla/punchclock/routes"
	"github.com/cppla/punchclock/session"
	"github.com/cppla/punchclock/storage"
	"github.com/cppla/punchclock/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()

	store := openStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(store, time.Now, utils.Logger)
	restored, err := sess.Restore(ctx)
	if err != nil {
		utils.Sugar.Warnf("restore session failed: %v", err)
	}
	deviceID, err := sess.DeviceID(ctx)
	if err != nil {
		utils.Sugar.Warnf("device id unavailable: %v", err)
	}

	api := client.New(cfg.APIBaseURL, time.Duration(cfg.APITimeoutSec)*time.Second, sess, client.WithLogger(utils.Logger))
	tracker := attendance.NewTracker(api, sess, attendance.TrackerConfig{
		Store:              store,
		Cache:              sess,
		MinRefreshInterval: time.Duration(cfg.MinRefreshIntervalSec) * time.Second,
		PollInterval:       time.Duration(cfg.PollIntervalSec) * time.Second,
		DefaultLocation:    cfg.DefaultLocation,
		Metadata:           deviceMetadata(cfg.IPLookupURL, deviceID),
		Logger:             utils.Logger,
	})

	if restored {
		if user, ok := sess.User(); ok {
			if err := tracker.OnLogin(ctx, user.ID); err != nil {
				utils.Sugar.Errorf("resume tracking for %s failed: %v", user.ID, err)
			} else {
				tracker.Start(ctx)
				utils.Sugar.Infof("resumed session for user %s", user.ID)
			}
		}
	}

	if cfg.RealtimeEnabled {
		sub := realtime.NewSubscriber(utils.GetRedis(), cfg.RealtimeChannel, func(ctx context.Context, name string) error {
			_, err := tracker.HandleRealtime(ctx, name)
			return err
		}, func() string {
			u, _ := sess.User()
			return u.ID
		}, utils.Logger)
		go sub.Run(ctx)
	}

	r := routes.SetupRouter(cfg, routes.Deps{Base: ctx, Session: sess, Tracker: tracker})

	addr := net.JoinHostPort(cfg.AppHost, cfg.AppPort)
	utils.Sugar.Infof("Starting local API on %s (graceful)", addr)
	err = utils.GraceServer(addr, r, func(context.Context) {
		cancel()
		tracker.Stop()
		if n := len(tracker.Pending()); n > 0 {
			utils.Sugar.Infof("%d attendance actions remain queued for the next start", n)
		}
	})
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

// openStore selects the durable backend for queue, session and snapshots.
func openStore(cfg config.AppConfig) storage.Store {
	switch cfg.StorageBackend {
	case "redis":
		return storage.Prefixed{Store: storage.NewRedisStore(utils.GetRedis()), Prefix: cfg.StorageKeyPrefix}
	case "mysql":
		db := config.InitDatabase(&models.KVEntry{})
		return storage.Prefixed{Store: storage.NewGormStore(db), Prefix: cfg.StorageKeyPrefix}
	case "memory":
		utils.Sugar.Warn("memory storage selected, queued actions are lost on exit")
		return storage.NewMemoryStore()
	}
	fs, err := storage.OpenFileStore(cfg.StoragePath)
	if err != nil {
		utils.Sugar.Fatalf("open storage %s: %v", cfg.StoragePath, err)
	}
	return fs
}

func deviceMetadata(lookupURL, deviceID string) attendance.MetadataFunc {
	info := utils.DeviceInfo()
	if deviceID != "" {
		info = fmt.Sprintf("%s id=%s", info, deviceID)
	}
	return func(ctx context.Context) (string, string) {
		lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		ip, err := utils.PublicIP(lookupCtx, lookupURL)
		if err != nil {
			utils.Logger.Debug("public ip lookup failed", zap.Error(err))
			ip = utils.LocalIP()
		}
		return ip, info
	}
}

