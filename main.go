package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardflow-api/api"
	"boardflow-api/board"
	"boardflow-api/domain"
	"boardflow-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	itemsTableName := os.Getenv("ITEMS_TABLE")
	eventsQueueName := os.Getenv("EVENTS_QUEUE")
	if connStr == "" || itemsTableName == "" || eventsQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, itemsTableName, eventsQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	catalog := domain.DefaultCatalog()
	if path := os.Getenv("STAGE_MAP_FILE"); path != "" {
		catalog, err = domain.LoadCatalogFile(path)
		if err != nil {
			log.Fatalf("stage map: %v", err)
		}
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	deduperTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		deduperTTL = d
	}
	deduper := api.NewRedisDeduper(rc, deduperTTL)

	eventsChannel := os.Getenv("EVENTS_CHANNEL")
	if eventsChannel == "" {
		eventsChannel = "board-events"
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	publisher := api.NewEventPublisher(store, rc, eventsChannel, logger)
	defer publisher.Close()

	feed := api.NewNotificationFeed()
	controller := board.New(catalog, cache, cache, feed, publisher, logger)

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Store:      cache,
		Catalog:    catalog,
		Controller: controller,
		Events:     publisher,
		Feed:       feed,
		Auth:       auth,
		Deduper:    deduper,
		Stream:     api.NewEventStream(rc, eventsChannel, logger),
		Log:        logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions accepts either a redis:// URL or the comma separated
// host:port,key=value form Azure hands out.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
