package app

import (
	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/redis"
)

func (app *App) initializeRedis() error {
	redisConfig := &redis.Config{
		Address:   app.Config.RedisAddress,
		Password:  app.Config.RedisPassword,
		DB:        app.Config.RedisDB,
		PoolSize:  app.Config.RedisPoolSize,
		KeyPrefix: app.Config.RedisKeyPrefix,
	}

	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		return errors.ConfigError(errors.CodeConfigInvalidValue, "cannot connect to redis").
			WithContext("address", app.Config.RedisAddress).
			WithContext("cause", err.Error())
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected",
		logging.String("address", app.Config.RedisAddress),
		logging.Int("db", app.Config.RedisDB))
	return nil
}
