package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"poic-settlement/challenge"
)

const challengesCollection = "challenges"

// connectDB opens the configured challenge store. The returned func closes
// the underlying connection.
func connectDB(ctx context.Context, cfg Config, log *zap.Logger) (challenge.Store, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case StoreMongo:
		opts := options.Client().ApplyURI(cfg.MongoURI)
		if cfg.MongoTLSInsecure {
			opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		}
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}

		store := challenge.NewMongoStore(client.Database(cfg.MongoDatabase).Collection(challengesCollection))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		log.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	case StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}

		store := challenge.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("connected to PostgreSQL")
		return store, pool.Close, nil

	case StoreMemory:
		log.Warn("using in-memory challenge store; challenges are lost on restart")
		return challenge.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
