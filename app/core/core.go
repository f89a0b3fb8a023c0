package core

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core/srv"
	"github.com/jhjames1/leap-grit-forge-sub004/app/store/sqlstore"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/changefeed"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

type Core struct {
	cfg CoreConfig
	srv *srv.Srv

	stores     func() *sqlstore.Provider
	cache      types.Cache
	feedSource *changefeed.TowerSource

	httpClient *http.Client
	httpEngine *gin.Engine

	metrics *Metrics
}

func MustSetupCore(cfg CoreConfig) *Core {
	{
		var writer io.Writer = os.Stdout
		if cfg.Log.Path != "" {
			writer = &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    500, // megabytes
				MaxBackups: 3,
				MaxAge:     28,   //days
				Compress:   true, // disabled by default
			}
		}
		l := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: cfg.Log.SlogLevel(),
		}))
		slog.SetDefault(l)
	}

	utils.SetupIDWorker(1)

	core := &Core{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Second * 3},
		metrics:    NewMetrics("leap", "core"),
		httpEngine: gin.New(),
		cache:      newRedisCache(cfg.Redis),
	}

	// setup store
	setupSqlStore(core)

	core.srv = srv.SetupSrvs(
		// web socket
		srv.ApplyTower(),
	)

	// committed row changes fan out over the tower, shared by browser
	// websockets and the in-process change feed
	core.Store().SetFeedPublisher(core.srv.Tower())
	core.feedSource = changefeed.NewTowerSource(core.srv.Tower().Manager, core.srv.Tower().Pusher())

	return core
}

func (s *Core) Cfg() CoreConfig {
	return s.cfg
}

func (s *Core) HttpEngine() *gin.Engine {
	return s.httpEngine
}

func (s *Core) Metrics() *Metrics {
	return s.metrics
}

func (s *Core) Cache() types.Cache {
	return s.cache
}

func (s *Core) FeedSource() *changefeed.TowerSource {
	return s.feedSource
}

func setupSqlStore(core *Core) {
	core.stores = sqlstore.MustSetup(core.cfg.Postgres)
	// 执行数据库表初始化
	if err := core.stores().Install(); err != nil {
		panic(err)
	}
	fmt.Println("setupSqlStore done")
}

func (s *Core) Store() *sqlstore.Provider {
	return s.stores()
}

func (s *Core) Srv() *srv.Srv {
	return s.srv
}
