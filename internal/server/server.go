package server

import (
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/auth"
	"backend-trailmates/internal/config"
	"backend-trailmates/internal/notify"
	"backend-trailmates/internal/realtime"
	"backend-trailmates/internal/safety"
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/sos"
	"backend-trailmates/internal/stream"
	"backend-trailmates/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var dialMQTT = notify.DialMQTT

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Gateway  *realtime.Gateway
	Notifier *notify.Dispatcher
	Log      *zap.Logger

	mqtt *notify.MQTT
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log.Named("stream")),
		Log:    log,
	}
	s.Notifier = notify.NewDispatcher(s.publisher(), log.Named("notify"))

	if err := registerRoutes(s); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) publisher() notify.Publisher {
	var pubs notify.Multi
	if s.Redis != nil {
		pubs = append(pubs, notify.NewRedisStream(s.Redis, s.Cfg.NotifyStream))
	}
	if s.Cfg.MQTTBroker != "" {
		m, err := dialMQTT(s.Cfg.MQTTBroker, s.Cfg.MQTTClientID)
		if err != nil {
			s.Log.Warn("mqtt notifier disabled", zap.String("broker", s.Cfg.MQTTBroker), zap.Error(err))
		} else {
			s.mqtt = m
			pubs = append(pubs, m)
		}
	}
	if len(pubs) == 0 {
		return notify.Nop{}
	}
	return pubs
}

func thresholds(cfg config.Safety) safety.Thresholds {
	t := safety.DefaultThresholds()
	if cfg.NoMovementSec > 0 {
		t.NoMovement = time.Duration(cfg.NoMovementSec) * time.Second
	}
	if cfg.FallingBehindM > 0 {
		t.FallingBehindM = cfg.FallingBehindM
	}
	if cfg.HeartRateMax > 0 {
		t.HeartRateMax = cfg.HeartRateMax
	}
	if cfg.HeartRateMin > 0 {
		t.HeartRateMin = cfg.HeartRateMin
	}
	if cfg.LowBatteryLevel > 0 {
		t.LowBattery = cfg.LowBatteryLevel
	}
	return t
}

func registerRoutes(s *Server) error {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	normalizer, err := telemetry.NewNormalizer()
	if err != nil {
		return err
	}

	authSvc := auth.NewService(s.Cfg.JWTSecret)
	jwtMiddleware := auth.JWTMiddleware(authSvc)

	var (
		directory    activity.Directory
		sessionStore session.Store
		sosStore     sos.Store
	)
	if s.DB != nil {
		directory = activity.NewService(s.DB)
		sessionStore = session.NewPostgresStore(s.DB)
		sosStore = sos.NewPostgresStore(s.DB)
	} else {
		s.Log.Warn("postgres not configured, activities, sessions and sos alerts kept in memory",
			zap.String("activity_seed", s.Cfg.ActivitySeed))
		mem := activity.NewMemoryDirectory()
		if s.Cfg.ActivitySeed != "" {
			if err := mem.LoadSeed(s.Cfg.ActivitySeed); err != nil {
				return err
			}
		}
		directory = mem
		sessionStore = session.NewMemoryStore()
		sosStore = sos.NewMemoryStore()
	}

	sessions := session.NewService(sessionStore, directory, s.Log.Named("session"))
	alerts := sos.NewService(sosStore, directory, sessions, s.Notifier, s.Log.Named("sos"))
	s.Gateway = realtime.NewGateway(realtime.Deps{
		Hub:        s.Stream,
		Verifier:   authSvc,
		Directory:  directory,
		Sessions:   sessions,
		SOS:        alerts,
		Normalizer: normalizer,
		Detector:   safety.NewDetector(thresholds(s.Cfg.Safety)),
		Notifier:   s.Notifier,
		Logger:     s.Log.Named("realtime"),
	})

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc)
	session.RegisterRoutes(s.App.Group("/sessions"), sessions, jwtMiddleware, s.Gateway)
	sos.RegisterRoutes(s.App.Group("/sos"), alerts, normalizer, jwtMiddleware, s.Gateway)
	realtime.RegisterRoutes(s.App.Group("/realtime"), s.Gateway)
	return nil
}

// Close stops background fan-out and flushes pending notifications.
func (s *Server) Close() {
	s.Stream.Close()
	s.Notifier.Wait()
	if s.mqtt != nil {
		s.mqtt.Close()
	}
}
