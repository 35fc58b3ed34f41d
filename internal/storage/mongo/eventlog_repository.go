// Package mongo хранит журнал событий продаж в MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	// CollectionSaleEvents - коллекция журнала событий.
	CollectionSaleEvents = "sale_events"

	opTimeout      = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Client оборачивает подключение к MongoDB и выбранную базу.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect подключается к MongoDB и проверяет доступность primary.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Client{client: client, db: client.Database(database)}, nil
}

// Ping проверяет доступность сервера.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("mongo client is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Ping(pingCtx, readpref.Primary())
}

// Close отключается от сервера.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// Database возвращает выбранную базу.
func (c *Client) Database() *mongo.Database {
	return c.db
}

type eventLogRepository struct {
	coll *mongo.Collection
}

// NewEventLogRepository создаёт репозиторий журнала и индекс по продаже.
func NewEventLogRepository(ctx context.Context, client *Client) (domain.EventLogRepository, error) {
	coll := client.Database().Collection(CollectionSaleEvents)

	idxCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := coll.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "data.sale_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetName("sale_events_sale_id_date"),
	})
	if err != nil {
		return nil, fmt.Errorf("create sale_events index: %w", err)
	}

	return &eventLogRepository{coll: coll}, nil
}

// Append вставляет событие; _id совпадает с ID события, дубликат считается успехом.
func (r *eventLogRepository) Append(ctx context.Context, event domain.SaleEvent) error {
	if event.ID == "" {
		return domain.ErrEventIDRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert sale event: %w", err)
	}
	return nil
}

// ListBySale возвращает события продажи по возрастанию даты.
func (r *eventLogRepository) ListBySale(ctx context.Context, saleID string) ([]domain.SaleEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx,
		bson.M{"data.sale_id": saleID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find sale events: %w", err)
	}

	events := make([]domain.SaleEvent, 0)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode sale events: %w", err)
	}
	for i := range events {
		events[i].Date = events[i].Date.UTC()
		events[i].Data.SaleDate = events[i].Data.SaleDate.UTC()
	}
	return events, nil
}

var _ domain.EventLogRepository = (*eventLogRepository)(nil)
