package utils

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
)

func GetCacheLifespan() time.Duration {
	seconds, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_SECONDS"))
	if err != nil || seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func redisKey[T any](id any) string {
	return GetTypeName[T]() + ":" + fmt.Sprint(id)
}

// StoreRedisList caches a slice under TypeName:List:<scope>.
func StoreRedisList[T any](ctx context.Context, list []T, scope string) error {
	return config.SetRedisObject(ctx, redisKey[T]("List:"+scope), list, GetCacheLifespan())
}

func RetrieveRedisList[T any](ctx context.Context, scope string) ([]T, bool, error) {
	var list []T
	exists, err := config.GetRedisObject(ctx, redisKey[T]("List:"+scope), &list)
	if err != nil || !exists {
		return nil, false, err
	}
	return list, true, nil
}

func RemoveRedisList[T any](ctx context.Context, scope string) error {
	return config.RemoveRedisKey(ctx, redisKey[T]("List:"+scope))
}
