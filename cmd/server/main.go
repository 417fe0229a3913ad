package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncserver/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	secret = configVar[string]{
		envKey:       "SERVER_SECRET",
		flagKey:      "secret",
		defaultValue: "",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	store = configVar[string]{
		envKey:       "SERVER_STORE",
		flagKey:      "store",
		defaultValue: app.StoreRedis,
	}
	sqlitePath = configVar[string]{
		envKey:       "SQLITE_PATH",
		flagKey:      "sqlite-path",
		defaultValue: "syncserver.db",
	}
	roomTTL = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_TTL",
		flagKey:      "room-ttl",
		defaultValue: 24 * 14 * time.Hour,
	}
	sendBuffer = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER",
		flagKey:      "send-buffer",
		defaultValue: 64,
	}
	writeTimeout = configVar[time.Duration]{
		envKey:       "SERVER_WRITE_TIMEOUT",
		flagKey:      "write-timeout",
		defaultValue: 10 * time.Second,
	}
	readLimit = configVar[int64]{
		envKey:       "SERVER_READ_LIMIT",
		flagKey:      "read-limit",
		defaultValue: 64 << 10,
	}
	hostOnlyControl = configVar[bool]{
		envKey:       "SERVER_HOST_ONLY_CONTROL",
		flagKey:      "host-only-control",
		defaultValue: false,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	pflag.String(secret.flagKey, secret.defaultValue, "Server secret")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(store.flagKey, store.defaultValue, "Room store backend (redis|sqlite)")
	pflag.String(sqlitePath.flagKey, sqlitePath.defaultValue, "Sqlite database path")
	pflag.Duration(roomTTL.flagKey, roomTTL.defaultValue, "Room expiration in the redis store")
	pflag.Int(sendBuffer.flagKey, sendBuffer.defaultValue, "Outbound message buffer per connection")
	pflag.Duration(writeTimeout.flagKey, writeTimeout.defaultValue, "Websocket write timeout")
	pflag.Int64(readLimit.flagKey, readLimit.defaultValue, "Largest inbound websocket message in bytes")
	pflag.Bool(hostOnlyControl.flagKey, hostOnlyControl.defaultValue, "Allow only the host to update room state")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(secret)
	bind(port)
	bind(host)
	bind(logLevel)
	bind(store)
	bind(sqlitePath)
	bind(roomTTL)
	bind(sendBuffer)
	bind(writeTimeout)
	bind(readLimit)
	bind(hostOnlyControl)
	bind(redisPort)
	bind(redisHost)
	bind(redisPassword)

	config := &app.AppConfig{
		Secret:          viper.GetString(secret.flagKey),
		Host:            viper.GetString(host.flagKey),
		Port:            viper.GetInt(port.flagKey),
		LogLevel:        viper.GetString(logLevel.flagKey),
		Store:           viper.GetString(store.flagKey),
		SqlitePath:      viper.GetString(sqlitePath.flagKey),
		RoomTTL:         viper.GetDuration(roomTTL.flagKey),
		SendBuffer:      viper.GetInt(sendBuffer.flagKey),
		WriteTimeout:    viper.GetDuration(writeTimeout.flagKey),
		ReadLimit:       viper.GetInt64(readLimit.flagKey),
		HostOnlyControl: viper.GetBool(hostOnlyControl.flagKey),
		RedisPort:       viper.GetInt(redisPort.flagKey),
		RedisHost:       viper.GetString(redisHost.flagKey),
		RedisPassword:   viper.GetString(redisPassword.flagKey),
	}

	return config
}

func main() {
	// a missing .env is fine, the environment and flags still apply
	_ = godotenv.Load()

	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
