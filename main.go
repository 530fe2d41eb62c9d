package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/account"
	"todo-api/api"
	"todo-api/storage"
	"todo-api/todo"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("missing DATABASE_URL")
	}
	store, err := storage.Open(connStr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	dedupeTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		dedupeTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	tasks := todo.NewService(storage.NewCache(store, rc, cacheTTL))

	audience := os.Getenv("JWT_AUDIENCE")
	issuer := os.Getenv("JWT_ISSUER")

	// With AUTH_JWKS_URL set, identity is delegated to an external provider
	// and the account routes are not mounted.
	var auth *api.Auth
	var accounts *account.Service
	if jwksURL := os.Getenv("AUTH_JWKS_URL"); jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, audience, issuer)
	} else {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			log.Fatal("missing JWT_SECRET")
		}
		auth = api.NewLocalAuth([]byte(secret), audience, issuer)
		accounts = account.NewService(store, account.TokenConfig{
			Secret:   []byte(secret),
			Issuer:   issuer,
			Audience: audience,
		})
		if adminEmail := os.Getenv("ADMIN_EMAIL"); adminEmail != "" {
			if err := accounts.EnsureAdmin(ctx, adminEmail); err != nil {
				log.Warnf("admin bootstrap for %s: %v", adminEmail, err)
			}
		}
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	logger := log.New()
	if accounts != nil {
		api.Register(e, tasks, accounts, auth, deduper, logger)
	} else {
		api.Register(e, tasks, nil, auth, deduper, logger)
	}

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// parseRedisOptions accepts either a redis URL or the comma-separated
// host,password=...,ssl=true syntax used by managed caches.
func parseRedisOptions(raw string) *redis.Options {
	opts, err := redis.ParseURL(raw)
	if err == nil {
		return opts
	}
	parts := strings.Split(raw, ",")
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
