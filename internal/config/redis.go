package config

// This file defines the Redis client constructor for the application.  Redis
// backs the seat leases, the reservation expiry timers and the distributed
// rate limiter, so unlike an optional cache it is required at startup.

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/cockroachdb/errors"
    "github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from environment variables.
// Supported variables are:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (REDIS_HOST/REDIS_PORT win when both are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when "true" or "1"
func RedisOptions() *redis.Options {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    dbNum := 0
    if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
        if n, err := strconv.Atoi(dbStr); err == nil {
            dbNum = n
        }
    }
    var tlsConf *tls.Config
    if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
        tlsConf = &tls.Config{InsecureSkipVerify: true}
    }
    return &redis.Options{
        Addr:      addr,
        Password:  os.Getenv("REDIS_PASSWORD"),
        DB:        dbNum,
        TLSConfig: tlsConf,
    }
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  The error is returned so that main can refuse to start without
// the lock store.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
    client := redis.NewClient(RedisOptions())
    pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil, errors.Wrapf(err, "redis ping %s", client.Options().Addr)
    }
    return client, nil
}
