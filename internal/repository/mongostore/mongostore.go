// Package mongostore keeps image metadata in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/msomdec/tilecrop/internal/domain"
)

const collectionName = "images"

// DB wraps a MongoDB client bound to one database.
type DB struct {
	client *mongo.Client
	images *mongo.Collection
}

// New connects to uri and selects the named database.
func New(ctx context.Context, uri, database string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &DB{
		client: client,
		images: client.Database(database).Collection(collectionName),
	}, nil
}

// Migrate ensures the unique index on path.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.images.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "path", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create path index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Images returns the image metadata repository.
func (d *DB) Images() domain.ImageRepository {
	return &imageRepo{coll: d.images}
}

// imageDoc is the persisted document shape.
type imageDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Path       string             `bson:"path"`
	Ext        string             `bson:"ext"`
	Size       sizeDoc            `bson:"size"`
	CropParams cropParamsDoc      `bson:"cropParams"`
	Cropped    bool               `bson:"cropped"`
	SourceURL  string             `bson:"sourceUrl,omitempty"`
	Checksum   string             `bson:"checksum,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

type sizeDoc struct {
	Width  int `bson:"width"`
	Height int `bson:"height"`
}

type cropParamsDoc struct {
	Pieces    int    `bson:"pieces"`
	Direction string `bson:"direction"`
}

func toDoc(img *domain.Image) imageDoc {
	return imageDoc{
		Path:       img.Path,
		Ext:        img.Ext,
		Size:       sizeDoc{Width: img.Size.Width, Height: img.Size.Height},
		CropParams: cropParamsDoc{Pieces: img.CropParams.Pieces, Direction: string(img.CropParams.Direction)},
		Cropped:    img.Cropped,
		SourceURL:  img.SourceURL,
		Checksum:   img.Checksum,
		CreatedAt:  img.CreatedAt,
	}
}

func (d imageDoc) toDomain() domain.Image {
	return domain.Image{
		ID:         d.ID.Hex(),
		Path:       d.Path,
		Ext:        d.Ext,
		Size:       domain.Size{Width: d.Size.Width, Height: d.Size.Height},
		CropParams: domain.CropParams{Pieces: d.CropParams.Pieces, Direction: domain.Direction(d.CropParams.Direction)},
		Cropped:    d.Cropped,
		SourceURL:  d.SourceURL,
		Checksum:   d.Checksum,
		CreatedAt:  d.CreatedAt,
	}
}

// imageRepo implements domain.ImageRepository on a MongoDB collection.
type imageRepo struct {
	coll *mongo.Collection
}

func (r *imageRepo) Create(ctx context.Context, image *domain.Image) error {
	// BSON dates carry millisecond precision.
	image.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	image.Cropped = false

	res, err := r.coll.InsertOne(ctx, toDoc(image))
	if err != nil {
		return fmt.Errorf("%w: insert image: %w", domain.ErrStore, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("%w: unexpected inserted id %v", domain.ErrStore, res.InsertedID)
	}
	image.ID = oid.Hex()
	return nil
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var doc imageDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get image: %w", domain.ErrStore, err)
	}
	img := doc.toDomain()
	return &img, nil
}

func (r *imageRepo) List(ctx context.Context) ([]domain.Image, error) {
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %w", domain.ErrStore, err)
	}
	defer cur.Close(ctx)

	var images []domain.Image
	for cur.Next(ctx) {
		var doc imageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode image: %w", domain.ErrStore, err)
		}
		images = append(images, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: list images: %w", domain.ErrStore, err)
	}
	return images, nil
}

func (r *imageRepo) MarkCropped(ctx context.Context, id string) (bool, error) {
	oid, err := parseID(id)
	if err != nil {
		return false, err
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"cropped": true}})
	if err != nil {
		return false, fmt.Errorf("%w: mark cropped: %w", domain.ErrStore, err)
	}
	return res.MatchedCount > 0, nil
}

func parseID(id string) (primitive.ObjectID, error) {
	if id == "" {
		return primitive.NilObjectID, fmt.Errorf("%w: image id is required", domain.ErrInvalidInput)
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed image id %q", domain.ErrInvalidInput, id)
	}
	return oid, nil
}
