package keyValue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type value struct {
	value   string
	expires time.Time
}

// Store is a TTL key-value store backed by redis, or by an in-process map in
// self-contained mode.
type Store struct {
	sugar         *zap.SugaredLogger
	redisClient   *redis.Client
	selfContained bool

	mutex   sync.RWMutex
	hashmap map[string]value
}

var redisCtx = context.Background()

func New(sugar *zap.SugaredLogger, redisClient *redis.Client, selfContained bool) *Store {
	store := &Store{
		sugar:         sugar,
		redisClient:   redisClient,
		selfContained: selfContained,
		hashmap:       make(map[string]value),
	}

	if selfContained {
		go store.checkForLocalExpiredKeys()
	}

	return store
}

func (s *Store) checkForLocalExpiredKeys() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mutex.Lock()
		for key, v := range s.hashmap {
			if v.expires.Before(time.Now()) {
				delete(s.hashmap, key)
			}
		}
		s.mutex.Unlock()
	}
}

func (s *Store) Get(key string) (string, error) {
	debugText := fmt.Sprintf("Getting value of key [%s]", key)
	if s.selfContained {
		s.sugar.Debugf("%s from hashmap", debugText)

		s.mutex.RLock()
		defer s.mutex.RUnlock()

		v := s.hashmap[key]
		if !v.expires.IsZero() && v.expires.Before(time.Now()) {
			return "", nil
		}

		return v.value, nil
	}

	s.sugar.Debugf("%s from redis", debugText)

	result, err := s.redisClient.Get(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return result, nil
}

func (s *Store) GetDel(key string) (string, error) {
	debugText := fmt.Sprintf("Getting and deleting value of key [%s]", key)
	if s.selfContained {
		s.sugar.Debugf("%s from hashmap", debugText)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		v := s.hashmap[key]
		delete(s.hashmap, key)

		if !v.expires.IsZero() && v.expires.Before(time.Now()) {
			return "", nil
		}

		return v.value, nil
	}

	s.sugar.Debugf("%s from redis", debugText)

	result, err := s.redisClient.GetDel(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return result, nil
}

func (s *Store) Set(key string, val string, expires time.Duration) error {
	debugText := fmt.Sprintf("Setting value of key [%s] to [%s]", key, val)
	if s.selfContained {
		s.sugar.Debugf("%s in hashmap", debugText)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.hashmap[key] = value{val, time.Now().Add(expires)}

		return nil
	}

	s.sugar.Debugf("%s in redis", debugText)
	_, err := s.redisClient.Set(redisCtx, key, val, expires).Result()
	return err
}
