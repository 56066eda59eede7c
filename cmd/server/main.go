package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/scholar-slot-booking/internal/calendar"
	"github.com/iliyamo/scholar-slot-booking/internal/config"
	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/database"
	"github.com/iliyamo/scholar-slot-booking/internal/generator"
	"github.com/iliyamo/scholar-slot-booking/internal/handler"
	"github.com/iliyamo/scholar-slot-booking/internal/queue"
	"github.com/iliyamo/scholar-slot-booking/internal/repository"
	"github.com/iliyamo/scholar-slot-booking/internal/router"
	"github.com/iliyamo/scholar-slot-booking/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	cfg := config.Load()                   // Load environment config
	sched := config.LoadSchedulingConfig() // Engine calibration

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig()) // nil when Redis is down

	catalog, err := generator.LoadCatalog(sched.TemplatesFile)
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	var busy calendar.BusySource
	if cfg.GoogleCredentialsFile != "" {
		creds, err := os.ReadFile(cfg.GoogleCredentialsFile)
		if err != nil {
			log.Fatalf("google credentials: %v", err)
		}
		gcal, err := calendar.NewGoogleBusySource(ctx, creds, cfg.GoogleCalendarID)
		if err != nil {
			log.Fatalf("google calendar: %v", err)
		}
		busy = gcal
		log.Printf("calendar import enabled (calendar=%s)", cfg.GoogleCalendarID)
	}

	var notifier service.Notifier = service.LogNotifier{}
	if cfg.NotifyEnabled {
		notifier = service.NewAMQPNotifier(cfg.RabbitURL)
	}
	if cfg.ConsumeEvents {
		go func() {
			if err := queue.StartNotificationConsumer(ctx, cfg.RabbitURL, cfg.LogDir); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("notification consumer stopped: %v", err)
			}
		}()
	}

	scheduler := service.NewScheduler(repository.NewBroadcastRepo(db, sched.BroadcastTTL), service.Options{
		Catalog:         catalog,
		Detector:        conflict.NewDetector(sched.HighOverlapRatio),
		Resolution:      sched.Resolution,
		Weights:         sched.Weights,
		Busy:            busy,
		Notifier:        notifier,
		LowConfidence:   sched.LowConfidence,
		MaxSlots:        sched.MaxSlots,
		Alternatives:    sched.Alternatives,
		DefaultTimezone: sched.Timezone,
	})

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Printf("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	router.RegisterRoutes(e, router.Deps{
		Public:    handler.NewPublicHandler(scheduler),
		Scholar:   handler.NewScholarHandler(scheduler),
		Student:   handler.NewStudentHandler(scheduler),
		JWTSecret: cfg.JWT.Secret,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
	})

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err) // Log and exit if server fails
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
