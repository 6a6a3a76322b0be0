package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	appconfig "github.com/wolfman30/portal-scheduling/internal/config"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore keeps booking sessions in Redis, or in process memory
// when Redis is not configured.
func BuildSessionStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) booking.SessionStore {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Warn("booking sessions kept in memory; they are lost on restart and not shared across instances")
		return booking.NewMemorySessionStore()
	}
	ttl := booking.DefaultSessionTTL
	if cfg != nil && cfg.BookingSessionTTL > 0 {
		ttl = cfg.BookingSessionTTL
	}
	return booking.NewRedisSessionStore(redisClient, ttl)
}

// ConnectPostgresPool opens the pgx pool used by the booking ledger and the
// event outbox. It returns nil when url is empty or the database is unreachable.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Warn("postgres pool not created", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not available", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// OpenAuditDB opens the database/sql handle behind the verification audit log.
func OpenAuditDB(url string, logger *logging.Logger) *sql.DB {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		logger.Warn("audit database not opened", "error", err)
		return nil
	}
	return db
}
