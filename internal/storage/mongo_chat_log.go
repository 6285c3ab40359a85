package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoChatLog пишет журнал чата в коллекцию MongoDB.
// Для инсталляций, где аудит чата читается внешними инструментами;
// по умолчанию используется FileChatLog.
type MongoChatLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoChatLog подключается к MongoDB и готовит коллекцию chat_log.
func NewMongoChatLog(uri string) (*MongoChatLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}

	return &MongoChatLog{
		client:     client,
		collection: client.Database("openfps").Collection("chat_log"),
	}, nil
}

// Append вставляет запись журнала.
func (ml *MongoChatLog) Append(ctx context.Context, entry ChatEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := ml.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("ошибка записи журнала чата в MongoDB: %w", err)
	}
	return nil
}

// Close отключается от MongoDB.
func (ml *MongoChatLog) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ml.client.Disconnect(ctx)
}
