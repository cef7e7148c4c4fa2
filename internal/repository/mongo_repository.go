package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCorruptCart  = errors.New("stored cart is corrupt")
)

// cartDocument is the stored shape. Prices are kept as decimal strings so
// no precision is lost to BSON doubles.
type cartDocument struct {
	SessionID string         `bson:"session_id"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ID            string            `bson:"id"`
	ProductID     string            `bson:"product_id"`
	Name          string            `bson:"name"`
	Image         string            `bson:"image"`
	Price         string            `bson:"price"`
	OriginalPrice *string           `bson:"original_price,omitempty"`
	Quantity      int               `bson:"quantity"`
	Variant       map[string]string `bson:"variant"`
	SellerID      string            `bson:"seller_id"`
	SellerName    string            `bson:"seller_name"`
	AddedAt       time.Time         `bson:"added_at"`
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) Load(ctx context.Context, sessionID string) ([]domain.LineItem, error) {
	var doc cartDocument

	filter := bson.M{"session_id": sessionID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items := make([]domain.LineItem, 0, len(doc.Items))
	for _, d := range doc.Items {
		item, err := fromDocument(d)
		if err != nil {
			return nil, fmt.Errorf("%w: item %s: %v", ErrCorruptCart, d.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *mongoRepository) Save(ctx context.Context, sessionID string, items []domain.LineItem) error {
	now := time.Now()

	docs := make([]itemDocument, len(items))
	for i, item := range items {
		docs[i] = toDocument(item)
	}

	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$set": bson.M{
			"items":      docs,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) Delete(ctx context.Context, sessionID string) error {
	filter := bson.M{"session_id": sessionID}

	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// EnsureIndexes creates the Mongo indexes when repo is Mongo-backed.
func EnsureIndexes(ctx context.Context, repo CartRepository) error {
	if m, ok := repo.(*mongoRepository); ok {
		return m.CreateIndexes(ctx)
	}
	return nil
}

func toDocument(item domain.LineItem) itemDocument {
	d := itemDocument{
		ID:         item.ID,
		ProductID:  item.ProductID,
		Name:       item.Name,
		Image:      item.Image,
		Price:      item.Price.String(),
		Quantity:   item.Quantity,
		Variant:    item.Variant,
		SellerID:   item.SellerID,
		SellerName: item.SellerName,
		AddedAt:    item.AddedAt,
	}
	if item.OriginalPrice != nil {
		s := item.OriginalPrice.String()
		d.OriginalPrice = &s
	}
	return d
}

func fromDocument(d itemDocument) (domain.LineItem, error) {
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return domain.LineItem{}, err
	}
	item := domain.LineItem{
		ID:         d.ID,
		ProductID:  d.ProductID,
		Name:       d.Name,
		Image:      d.Image,
		Price:      price,
		Quantity:   d.Quantity,
		Variant:    d.Variant,
		SellerID:   d.SellerID,
		SellerName: d.SellerName,
		AddedAt:    d.AddedAt,
	}
	if d.OriginalPrice != nil {
		orig, err := decimal.NewFromString(*d.OriginalPrice)
		if err != nil {
			return domain.LineItem{}, err
		}
		item.OriginalPrice = &orig
	}
	return item, nil
}
