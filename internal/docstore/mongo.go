package docstore

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo implements Store on a MongoDB database. Documents use string _id
// values (store-assigned ids are UUIDs) so ordering tie-breaks are stable
// across implementations. Merge writes map onto $set with upsert, which is
// what gives the field-level non-clobbering guarantee: two writers touching
// different fields of the same document never overwrite each other.
type Mongo struct {
	db *mongo.Database

	// opTimeout, when non-zero, bounds every network-bound call. Off by
	// default to match the source system's behavior.
	opTimeout time.Duration

	// pollInterval drives the snapshot fallback used when change streams
	// are unavailable (standalone mongod).
	pollInterval time.Duration
}

// MongoOption configures a Mongo store.
type MongoOption func(*Mongo)

// WithOpTimeout bounds each store operation with the given timeout.
func WithOpTimeout(d time.Duration) MongoOption {
	return func(m *Mongo) { m.opTimeout = d }
}

// WithPollInterval sets the snapshot polling cadence used when the
// deployment does not support change streams.
func WithPollInterval(d time.Duration) MongoOption {
	return func(m *Mongo) { m.pollInterval = d }
}

// NewMongo returns a Store backed by the given database.
func NewMongo(db *mongo.Database, opts ...MongoOption) *Mongo {
	m := &Mongo{db: db, pollInterval: 500 * time.Millisecond}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mongo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout > 0 {
		return context.WithTimeout(ctx, m.opTimeout)
	}
	return ctx, func() {}
}

// Get returns the document's fields, or ErrNotFound.
func (m *Mongo) Get(ctx context.Context, collection, id string) (Fields, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	delete(raw, "_id")
	return fieldsFromBSON(raw), nil
}

// Put writes the document under the given id. merge=true issues a $set
// upsert touching only the named fields; merge=false replaces the document.
func (m *Mongo) Put(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	coll := m.db.Collection(collection)
	if merge {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M(fields)},
			options.UpdateOne().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("merge put %s/%s: %w", collection, id, err)
		}
		return nil
	}

	_, err := coll.ReplaceOne(ctx,
		bson.M{"_id": id},
		bson.M(fields),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Add inserts a document under a generated id and returns the id.
func (m *Mongo) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	id := uuid.NewString()
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	return id, nil
}

// Query returns the matching documents ordered per q, tie-broken by _id.
func (m *Mongo) Query(ctx context.Context, collection string, q Query) ([]Doc, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.runQuery(ctx, collection, q)
}

func (m *Mongo) runQuery(ctx context.Context, collection string, q Query) ([]Doc, error) {
	filter := bson.M{}
	for _, f := range q.Filters {
		filter[f.Field] = f.Value
	}

	dir := 1
	if q.Desc {
		dir = -1
	}
	sort := bson.D{}
	if q.OrderBy != "" {
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: dir})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var out []Doc
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("query %s: decode: %w", collection, err)
		}
		id, _ := raw["_id"].(string)
		delete(raw, "_id")
		out = append(out, Doc{ID: id, Fields: fieldsFromBSON(raw)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return out, nil
}

// Snapshot delivers the current matching set, then re-delivers it after
// every change to the collection. A change stream drives updates when the
// deployment supports one; otherwise the store falls back to polling.
func (m *Mongo) Snapshot(ctx context.Context, collection string, q Query, l Listener) (CancelFunc, error) {
	subCtx, cancel := context.WithCancel(ctx)

	initial, err := m.runQuery(subCtx, collection, q)
	if err != nil {
		cancel()
		return nil, err
	}

	stream, watchErr := m.db.Collection(collection).Watch(subCtx, mongo.Pipeline{})

	go func() {
		if l.OnChange != nil {
			l.OnChange(initial)
		}
		if watchErr != nil {
			// Change streams need a replica set; poll instead.
			m.pollLoop(subCtx, collection, q, l, initial)
			return
		}
		defer stream.Close(context.Background())

		for stream.Next(subCtx) {
			docs, err := m.runQuery(subCtx, collection, q)
			if err != nil {
				m.fail(l, err)
				return
			}
			if l.OnChange != nil {
				l.OnChange(docs)
			}
		}
		if err := stream.Err(); err != nil && subCtx.Err() == nil {
			m.fail(l, err)
		}
	}()

	return CancelFunc(cancel), nil
}

func (m *Mongo) pollLoop(ctx context.Context, collection string, q Query, l Listener, last []Doc) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			docs, err := m.runQuery(ctx, collection, q)
			if err != nil {
				if ctx.Err() == nil {
					m.fail(l, err)
				}
				return
			}
			if reflect.DeepEqual(docs, last) {
				continue
			}
			last = docs
			if l.OnChange != nil {
				l.OnChange(docs)
			}
		}
	}
}

func (m *Mongo) fail(l Listener, err error) {
	if l.OnError != nil {
		l.OnError(err)
		return
	}
	log.Printf("docstore: snapshot stream failed: %v", err)
}

// fieldsFromBSON converts decoded BSON values back into the plain Go types
// the Fields contract uses (time.Time for timestamps, nested Fields maps).
func fieldsFromBSON(raw bson.M) Fields {
	out := make(Fields, len(raw))
	for k, v := range raw {
		out[k] = valueFromBSON(v)
	}
	return out
}

func valueFromBSON(v any) any {
	switch vv := v.(type) {
	case bson.M:
		return fieldsFromBSON(vv)
	case bson.D:
		m := make(Fields, len(vv))
		for _, e := range vv {
			m[e.Key] = valueFromBSON(e.Value)
		}
		return m
	case bson.A:
		arr := make([]any, len(vv))
		for i, e := range vv {
			arr[i] = valueFromBSON(e)
		}
		return arr
	case bson.DateTime:
		return vv.Time().UTC()
	case int32:
		return int(vv)
	default:
		return v
	}
}
