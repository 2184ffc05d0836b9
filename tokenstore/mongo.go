package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = (*MongoStore)(nil)

// MongoStore implements Store backed by MongoDB, with Redis as a
// write-through accelerator. Without Redis (SetupRedis never called)
// the cache degrades to an in-process map, so the store still works in
// single-instance deployments and tests.
//
// Mongo is the arbiter for request-token consumption: FindOneAndDelete
// guarantees a single winner when two callbacks race on one token, so
// the cache is never consulted to decide existence.
type MongoStore struct {
	db          *mongo.Database
	requestColl *mongo.Collection
	accessColl  *mongo.Collection
	legacyColl  *mongo.Collection

	redis redis.Cmdable

	mu       sync.Mutex
	mem      map[string]memEntry
	quotaMem map[string]quotaEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type requestTokenDoc struct {
	Token   string    `bson:"oauth_token"`
	Secret  string    `bson:"oauth_token_secret"`
	Created time.Time `bson:"created"`
}

// NewMongoStore creates a MongoStore. Expects a connected mongo.Database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:          db,
		requestColl: db.Collection("oauth_request_tokens"),
		accessColl:  db.Collection("oauth_access_tokens"),
		legacyColl:  db.Collection("accounts"),
		mem:         make(map[string]memEntry),
		quotaMem:    make(map[string]quotaEntry),
	}
}

// SetupRedis switches the cache tier from the in-process map to Redis.
func (s *MongoStore) SetupRedis(cmdable redis.Cmdable) {
	s.redis = cmdable
}

func (s *MongoStore) PutRequestToken(ctx context.Context, token, secret string) error {
	doc := requestTokenDoc{Token: token, Secret: secret, Created: time.Now()}
	_, err := s.requestColl.ReplaceOne(ctx, bson.M{"oauth_token": token}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	s.cacheSet(ctx, requestKey(token), secret, RequestTokenTTL)
	return nil
}

func (s *MongoStore) TakeRequestToken(ctx context.Context, token string) (string, error) {
	var doc requestTokenDoc
	err := s.requestColl.FindOneAndDelete(ctx, bson.M{"oauth_token": token}).Decode(&doc)
	s.cacheDel(ctx, requestKey(token))
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}
	if time.Since(doc.Created) > RequestTokenTTL {
		return "", ErrNotFound
	}
	return doc.Secret, nil
}

func (s *MongoStore) DeleteRequestToken(ctx context.Context, token string) error {
	_, err := s.requestColl.DeleteOne(ctx, bson.M{"oauth_token": token})
	s.cacheDel(ctx, requestKey(token))
	return err
}

func (s *MongoStore) PutAccessToken(ctx context.Context, tok AccessToken) error {
	if tok.Created.IsZero() {
		tok.Created = time.Now()
	}
	if tok.Specifier != "" {
		// Single-current-token-per-specifier: drop superseded records
		// and their cache entries before inserting the new one.
		cur, err := s.accessColl.Find(ctx, bson.M{"specifier": tok.Specifier})
		if err != nil {
			return err
		}
		var old []AccessToken
		if err := cur.All(ctx, &old); err != nil {
			return err
		}
		if len(old) > 0 {
			if _, err := s.accessColl.DeleteMany(ctx, bson.M{"specifier": tok.Specifier}); err != nil {
				return err
			}
			for _, prev := range old {
				s.cacheDel(ctx, accessKey(prev.Token))
			}
		}
	}
	if _, err := s.accessColl.InsertOne(ctx, tok); err != nil {
		return err
	}
	s.cacheSet(ctx, accessKey(tok.Token), tok.Secret, 0)
	return nil
}

func (s *MongoStore) LookupAccessToken(ctx context.Context, token string) (AccessToken, error) {
	if secret, ok := s.cacheGet(ctx, accessKey(token)); ok {
		return AccessToken{Token: token, Secret: secret}, nil
	}

	var tok AccessToken
	err := s.accessColl.FindOne(ctx, bson.M{"oauth_token": token}).Decode(&tok)
	if err == nil {
		s.cacheSet(ctx, accessKey(token), tok.Secret, 0)
		return tok, nil
	}
	if err != mongo.ErrNoDocuments {
		return AccessToken{}, err
	}

	// Last resort: the pre-migration accounts collection.
	var legacy struct {
		Token  string    `bson:"token"`
		Secret string    `bson:"secret"`
		Date   time.Time `bson:"date"`
	}
	err = s.legacyColl.FindOne(ctx, bson.M{"token": token}).Decode(&legacy)
	if err == mongo.ErrNoDocuments {
		return AccessToken{}, ErrNotFound
	} else if err != nil {
		return AccessToken{}, err
	}
	tok = AccessToken{Token: legacy.Token, Secret: legacy.Secret, Created: legacy.Date}
	s.cacheSet(ctx, accessKey(token), tok.Secret, 0)
	return tok, nil
}

func (s *MongoStore) IncrQuota(ctx context.Context, token string, at time.Time) (int64, error) {
	key := QuotaBucket(token, at)
	if s.redis != nil {
		n, err := s.redis.Incr(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if n == 1 {
			if err := s.redis.Expire(ctx, key, QuotaWindow).Err(); err != nil {
				slog.Warn("failed to set quota expiry", "key", key, "err", err)
			}
		}
		return n, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.quotaMem[key]
	if entry.count == 0 || time.Now().After(entry.expiresAt) {
		entry = quotaEntry{expiresAt: at.Add(QuotaWindow)}
	}
	entry.count++
	s.quotaMem[key] = entry
	return entry.count, nil
}

func (s *MongoStore) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-ExpirationWindow)
	findOpts := options.Find().
		SetLimit(CleanupBatchSize).
		SetProjection(bson.M{"oauth_token": 1})
	cur, err := s.requestColl.Find(ctx, bson.M{"created": bson.M{"$lt": cutoff}}, findOpts)
	if err != nil {
		return 0, err
	}
	var docs []requestTokenDoc
	if err := cur.All(ctx, &docs); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	tokens := make([]string, 0, len(docs))
	for _, doc := range docs {
		tokens = append(tokens, doc.Token)
	}
	res, err := s.requestColl.DeleteMany(ctx, bson.M{"oauth_token": bson.M{"$in": tokens}})
	if err != nil {
		return 0, err
	}
	for _, token := range tokens {
		s.cacheDel(ctx, requestKey(token))
	}
	return res.DeletedCount, nil
}

func requestKey(token string) string { return "request_token:" + token }
func accessKey(token string) string  { return "access_token:" + token }

// cache tier: Redis when configured, otherwise a guarded map.

func (s *MongoStore) cacheSet(ctx context.Context, key, value string, ttl time.Duration) {
	if s.redis != nil {
		if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
			slog.Warn("cache set failed", "key", key, "err", err)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mem[key] = entry
}

func (s *MongoStore) cacheGet(ctx context.Context, key string) (string, bool) {
	if s.redis != nil {
		value, err := s.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			return "", false
		} else if err != nil {
			slog.Warn("cache get failed", "key", key, "err", err)
			return "", false
		}
		return value, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.mem[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.mem, key)
		return "", false
	}
	return entry.value, true
}

func (s *MongoStore) cacheDel(ctx context.Context, key string) {
	if s.redis != nil {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			slog.Warn("cache delete failed", "key", key, "err", err)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem, key)
}

// Err helpers shared with tests.

// IsNotFound reports whether err is the store's miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
