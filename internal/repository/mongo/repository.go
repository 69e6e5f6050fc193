package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

type Repository struct {
	collection *mongo.Collection
}

var _ ports.SourceRepository = (*Repository)(nil)

type validatorsDoc struct {
	ETag         string `bson:"etag,omitempty"`
	LastModified string `bson:"lastModified,omitempty"`
}

type sourceDoc struct {
	ID          string        `bson:"_id"`
	Name        string        `bson:"name"`
	URL         string        `bson:"url"`
	Status      string        `bson:"status"`
	Size        int64         `bson:"size"`
	ContentType string        `bson:"contentType,omitempty"`
	Validators  validatorsDoc `bson:"validators"`
	LastError   string        `bson:"lastError,omitempty"`
	CreatedAt   int64         `bson:"createdAt"`
	UpdatedAt   int64         `bson:"updatedAt"`
	CheckedAt   int64         `bson:"checkedAt"`
	Tags        []string      `bson:"tags,omitempty"`
}

// sourceUpdateDoc is sourceDoc without _id, for $set. lastError is always
// written so a recovered source clears it.
type sourceUpdateDoc struct {
	Name        string        `bson:"name"`
	URL         string        `bson:"url"`
	Status      string        `bson:"status"`
	Size        int64         `bson:"size"`
	ContentType string        `bson:"contentType"`
	Validators  validatorsDoc `bson:"validators"`
	LastError   string        `bson:"lastError"`
	CreatedAt   int64         `bson:"createdAt"`
	UpdatedAt   int64         `bson:"updatedAt"`
	CheckedAt   int64         `bson:"checkedAt"`
	Tags        []string      `bson:"tags,omitempty"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: "text"}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "url", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *Repository) Create(ctx context.Context, s domain.SourceRecord) error {
	_, err := r.collection.InsertOne(ctx, toDoc(s))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
	}
	return err
}

func (r *Repository) Update(ctx context.Context, s domain.SourceRecord) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": string(s.ID)}, bson.M{"$set": toUpdateDoc(s)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error) {
	var doc sourceDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SourceRecord{}, domain.ErrNotFound
		}
		return domain.SourceRecord{}, err
	}
	return fromDoc(doc), nil
}

func (r *Repository) List(ctx context.Context, filter domain.SourceFilter) ([]domain.SourceRecord, error) {
	query := listQuery(filter)

	sortBy := strings.TrimSpace(filter.SortBy)
	if sortBy == "" {
		sortBy = "updatedAt"
	}
	field, ok := mongoSortField(sortBy)
	if !ok {
		field = "updatedAt"
	}
	direction := -1
	if filter.SortOrder == domain.SortAsc {
		direction = 1
	}

	opts := options.Find()
	opts.SetSort(bson.D{{Key: field, Value: direction}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sourceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *Repository) Delete(ctx context.Context, id domain.SourceID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func listQuery(filter domain.SourceFilter) bson.M {
	query := bson.M{}
	if filter.Status != nil {
		query["status"] = string(*filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query["name"] = bson.M{
			"$regex":   regexp.QuoteMeta(search),
			"$options": "i",
		}
	}
	if tags := normalizeTags(filter.Tags); len(tags) > 0 {
		query["tags"] = bson.M{"$all": tags}
	}
	return query
}

func toDoc(s domain.SourceRecord) sourceDoc {
	return sourceDoc{
		ID:          string(s.ID),
		Name:        s.Name,
		URL:         s.URL,
		Status:      string(s.Status),
		Size:        s.Size,
		ContentType: s.ContentType,
		Validators:  validatorsDoc(s.Validators),
		LastError:   s.LastError,
		CreatedAt:   s.CreatedAt.Unix(),
		UpdatedAt:   s.UpdatedAt.Unix(),
		CheckedAt:   s.CheckedAt.Unix(),
		Tags:        normalizeTags(s.Tags),
	}
}

func toUpdateDoc(s domain.SourceRecord) sourceUpdateDoc {
	return sourceUpdateDoc{
		Name:        s.Name,
		URL:         s.URL,
		Status:      string(s.Status),
		Size:        s.Size,
		ContentType: s.ContentType,
		Validators:  validatorsDoc(s.Validators),
		LastError:   s.LastError,
		CreatedAt:   s.CreatedAt.Unix(),
		UpdatedAt:   s.UpdatedAt.Unix(),
		CheckedAt:   s.CheckedAt.Unix(),
		Tags:        normalizeTags(s.Tags),
	}
}

func fromDoc(doc sourceDoc) domain.SourceRecord {
	return domain.SourceRecord{
		ID:          domain.SourceID(doc.ID),
		Name:        doc.Name,
		URL:         doc.URL,
		Status:      domain.SourceStatus(doc.Status),
		Size:        doc.Size,
		ContentType: doc.ContentType,
		Validators:  domain.Validators(doc.Validators),
		LastError:   doc.LastError,
		CreatedAt:   timeFromUnix(doc.CreatedAt),
		UpdatedAt:   timeFromUnix(doc.UpdatedAt),
		CheckedAt:   timeFromUnix(doc.CheckedAt),
		Tags:        normalizeTags(doc.Tags),
	}
}

func fromDocs(docs []sourceDoc) []domain.SourceRecord {
	records := make([]domain.SourceRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		clean = append(clean, t)
	}
	return clean
}

func mongoSortField(sortBy string) (string, bool) {
	switch sortBy {
	case "name":
		return "name", true
	case "createdAt":
		return "createdAt", true
	case "updatedAt":
		return "updatedAt", true
	case "checkedAt":
		return "checkedAt", true
	case "size":
		return "size", true
	default:
		return "", false
	}
}
