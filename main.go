package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mohamedN2018/konoz/internal/gormzerologger"
	handlers_analytics "github.com/mohamedN2018/konoz/internal/handlers/analytics"
	"github.com/mohamedN2018/konoz/internal/kzconfig"
	"github.com/mohamedN2018/konoz/internal/kzmiddleware"
	"github.com/mohamedN2018/konoz/internal/models/kzanalytics"
	"github.com/mohamedN2018/konoz/internal/models/kzgeo"
	"github.com/mohamedN2018/konoz/internal/models/kzlog"
)

const VERSION string = "0.3.0"

// global instance
var (
	db            *gorm.DB
	configuration *kzconfig.Config
	tracker       *kzanalytics.Tracker
	reports       *kzanalytics.Reports
	geoResolver   *kzgeo.Resolver
	BuildID       string
)

func initConfiguration() {
	configFile, shouldCreateExample, versionDisplay, err := kzconfig.ParseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  konoz -config konoz.yaml")
		fmt.Println("  konoz -example  (pour créer un fichier exemple)")
		fmt.Println("  konoz -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	kzconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := kzconfig.LoadConfig(configFile)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	configuration = conf
}

func initDatabase() {
	var err error
	gormConfig := &gorm.Config{
		Logger: gormzerologger.New(configuration.Logger.Level),
	}
	switch configuration.Database.Db {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(configuration.Database.Path), gormConfig)
	case "mysql":
		db, err = gorm.Open(mysql.Open(configuration.Database.Dsn), gormConfig)
	default:
		err = fmt.Errorf("le type de database doit etre sqlite ou mysql")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur connexion base de données")
	}

	if err := kzanalytics.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Erreur migration")
	}

	log.Info().Msg("Base de données initialisée avec succès")
}

func initTracking() {
	geoResolver = kzgeo.NewResolver(configuration.GeoIP.Path)

	redisClient := redis.NewClient(&redis.Options{
		Addr: configuration.Database.Redis.Addr,
		DB:   configuration.Database.Redis.Db,
	})

	tracker = kzanalytics.NewTracker(db, redisClient, geoResolver)
	reports = kzanalytics.NewReports(db, redisClient)

	sessionTimeout := time.Duration(configuration.Tracking.SessionTimeoutMinutes) * time.Minute
	retention := time.Duration(configuration.Tracking.RetentionDays) * 24 * time.Hour
	tracker.StartCrons(sessionTimeout, retention)
}

func newServer() *gin.Engine {
	if configuration.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if configuration.TrustedProxies != nil {
		r.SetTrustedProxies(configuration.TrustedProxies)
	}
	if configuration.TrustedPlatform != "" {
		switch configuration.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = configuration.TrustedPlatform
		}
	}

	return r
}

func setMiddleware(r *gin.Engine) {
	kzmiddleware.InitMiddleware(r, configuration.Production)

	// tracking des visiteurs sur toutes les routes publiques
	am := kzmiddleware.NewAnalyticsMiddleware(tracker, configuration.Tracking.SkipPrefixes)
	r.Use(am.Middleware())
}

func setRoutes(r *gin.Engine) {
	// middleware rate limiter pour les exports
	middlewareLimiter := kzmiddleware.NewLimiter()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": VERSION})
	})

	ah := handlers_analytics.NewAnalyticsHandler(reports)

	api := r.Group("/api/analytics")
	{
		api.GET("/dashboard", ah.GetDashboard)
		api.GET("/time", ah.GetTimeAnalytics)
		api.GET("/geographic", ah.GetGeographic)
		api.GET("/countries/:code", ah.GetCountry)
		api.GET("/pages", ah.GetPages)
		api.GET("/devices", ah.GetDevices)
		api.GET("/realtime", ah.GetRealtime)
		api.GET("/realtime/live", ah.LiveRealtime)
		api.GET("/sessions", ah.GetRecentSessions)
		api.GET("/sessions/:id", ah.GetSession)
		api.GET("/export", middlewareLimiter, ah.ExportCSV)
	}
}

func startServer(r *gin.Engine) {
	log.Printf("Analytics démarré sur http://%s\n", configuration.Listen.Website)
	r.Run(configuration.Listen.Website)
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	initConfiguration()
	kzlog.InitLogger(configuration.Logger, configuration.Production)
	initDatabase()
	initTracking()
	defer geoResolver.Close()

	r := newServer()

	setMiddleware(r)
	setRoutes(r)

	startServer(r)
}
