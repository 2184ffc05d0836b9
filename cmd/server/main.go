package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codingconcepts/env"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Seann-Moser/oauth1"
	"github.com/Seann-Moser/oauth1/client"
	"github.com/Seann-Moser/oauth1/tokenstore"
)

type Config struct {
	BindAddr   string `env:"BIND_ADDR"`
	ListenPort uint16 `env:"LISTEN_PORT" default:"8080"`
	Origin     string `env:"ORIGIN"`

	MongoURI      string `env:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" default:"oauth1"`
	RedisAddr     string `env:"REDIS_ADDR"`

	SessionSecret string `env:"SESSION_SECRET" required:"true"`

	TwitterConsumerKey    string `env:"TWITTER_CONSUMER_KEY" required:"true"`
	TwitterConsumerSecret string `env:"TWITTER_CONSUMER_SECRET" required:"true"`

	// Endpoint overrides for self-hosted or test providers; empty
	// values keep the stock Twitter endpoints.
	TwitterRequestTokenURL string `env:"TWITTER_REQUEST_TOKEN_URL"`
	TwitterAccessTokenURL  string `env:"TWITTER_ACCESS_TOKEN_URL"`
	TwitterAuthorizeURL    string `env:"TWITTER_AUTHORIZE_URL"`
	TwitterAPIPrefix       string `env:"TWITTER_API_PREFIX"`
}

func main() {
	// Parse config from environment variables
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}
	config := Config{}
	if err := env.Set(&config); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(config.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()
	if err := mongoClient.Ping(ctx, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	log.Println("Connected to MongoDB")

	store := tokenstore.NewMongoStore(mongoClient.Database(config.MongoDatabase))
	if config.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping Redis: %v", err)
		}
		store.SetupRedis(rdb)
		log.Println("Connected to Redis")
	} else {
		log.Println("REDIS_ADDR not set, using in-process cache")
	}

	// Static per-provider configuration, loaded once
	registry := oauth1.NewRegistry()
	twitter := oauth1.Twitter(config.TwitterConsumerKey, config.TwitterConsumerSecret)
	if config.TwitterRequestTokenURL != "" {
		twitter.RequestTokenURL = config.TwitterRequestTokenURL
	}
	if config.TwitterAccessTokenURL != "" {
		twitter.AccessTokenURL = config.TwitterAccessTokenURL
	}
	if config.TwitterAuthorizeURL != "" {
		twitter.AuthorizeURL = config.TwitterAuthorizeURL
	}
	if config.TwitterAPIPrefix != "" {
		twitter.APIPrefix = config.TwitterAPIPrefix
	}
	registry.Register("twitter", twitter)

	handlerOpts := []client.HandlerOption{}
	if config.Origin != "" {
		handlerOpts = append(handlerOpts, client.WithCallbackBase(config.Origin))
	}
	handler := client.NewHandler(registry, store, []byte(config.SessionSecret), handlerOpts...)

	r := mux.NewRouter()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.BindAddr, config.ListenPort),
		Handler: r,
	}
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
