package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
)

// MongoConfig configures the MongoDB document store. This layout uses a
// separate collection per document type: run_start, run_stop,
// event_descriptor and event live in the metadatastore database; resource
// and datum live in the asset registry database. The two URIs may point at
// the same deployment.
type MongoConfig struct {
	// MetadatastoreURI must include a database name.
	MetadatastoreURI string

	// AssetRegistryURI must include a database name.
	AssetRegistryURI string

	// ConnectTimeout bounds the initial connection handshake.
	ConnectTimeout time.Duration
}

// DefaultMongoConfig returns sensible defaults.
func DefaultMongoConfig(mdsURI, assetsURI string) MongoConfig {
	return MongoConfig{
		MetadatastoreURI: mdsURI,
		AssetRegistryURI: assetsURI,
		ConnectTimeout:   10 * time.Second,
	}
}

// MongoStore implements Store on two MongoDB databases.
type MongoStore struct {
	mdsClient    *mongo.Client
	assetsClient *mongo.Client

	runStarts   *mongo.Collection
	runStops    *mongo.Collection
	descriptors *mongo.Collection
	events      *mongo.Collection
	resources   *mongo.Collection
	datums      *mongo.Collection
}

// databaseFromURI extracts the database component of a connection string.
// There is no later point at which a missing database fails cleanly, so
// this is checked at construction time.
func databaseFromURI(uri, role string) (string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidConfig, "invalid "+role+" URI")
	}
	if cs.Database == "" {
		return "", errors.InvalidConfig(role+" URI has no database; did you forget to include one?").
			WithContext("uri", uri)
	}
	return cs.Database, nil
}

// NewMongoStore connects to both databases and binds the collections.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	mdsDB, err := databaseFromURI(cfg.MetadatastoreURI, "metadatastore")
	if err != nil {
		return nil, err
	}
	assetsDB, err := databaseFromURI(cfg.AssetRegistryURI, "asset registry")
	if err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	mdsClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MetadatastoreURI))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "metadatastore connect failed")
	}
	assetsClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.AssetRegistryURI))
	if err != nil {
		_ = mdsClient.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "asset registry connect failed")
	}

	mds := mdsClient.Database(mdsDB)
	assets := assetsClient.Database(assetsDB)

	return &MongoStore{
		mdsClient:    mdsClient,
		assetsClient: assetsClient,
		runStarts:    mds.Collection("run_start"),
		runStops:     mds.Collection("run_stop"),
		descriptors:  mds.Collection("event_descriptor"),
		events:       mds.Collection("event"),
		resources:    assets.Collection("resource"),
		datums:       assets.Collection("datum"),
	}, nil
}

func (s *MongoStore) GetRunStart(ctx context.Context, uid string) (model.RunStart, error) {
	var doc model.RunStart
	err := s.runStarts.FindOne(ctx, bson.M{"uid": uid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.RunStart{}, errors.RunNotFound(uid)
	}
	if err != nil {
		return model.RunStart{}, errors.Wrap(err, errors.CodeStoreQuery, "run_start lookup failed").
			WithContext("uid", uid)
	}
	stripID(doc.Extra)
	return doc, nil
}

func (s *MongoStore) GetRunStop(ctx context.Context, runUID string) (*model.RunStop, error) {
	var doc model.RunStop
	err := s.runStops.FindOne(ctx, bson.M{"run_start": runUID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		// An open run has no stop document. Not an error.
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "run_stop lookup failed").
			WithContext("run", runUID)
	}
	stripID(doc.Extra)
	return &doc, nil
}

func (s *MongoStore) GetDescriptors(ctx context.Context, runUID string) ([]model.Descriptor, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}})
	cur, err := s.descriptors.Find(ctx, bson.M{"run_start": runUID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "descriptor query failed").
			WithContext("run", runUID)
	}
	defer cur.Close(ctx)

	var out []model.Descriptor
	for cur.Next(ctx) {
		var doc model.Descriptor
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.CodeStoreQuery, "descriptor decode failed")
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "descriptor cursor failed")
	}
	return out, nil
}

func (s *MongoStore) Events(ctx context.Context, descriptorUIDs []string, skip, limit int64) (EventCursor, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: 1}}).
		SetSkip(skip)
	if limit >= 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := s.events.Find(ctx, bson.M{"descriptor": bson.M{"$in": descriptorUIDs}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "event query failed")
	}
	return &mongoEventCursor{cur: cur}, nil
}

func (s *MongoStore) CountEvents(ctx context.Context, descriptorUIDs []string) (int64, error) {
	n, err := s.events.CountDocuments(ctx, bson.M{"descriptor": bson.M{"$in": descriptorUIDs}})
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeStoreQuery, "event count failed")
	}
	return n, nil
}

func (s *MongoStore) GetResource(ctx context.Context, uid string) (model.Resource, error) {
	var doc model.Resource
	err := s.resources.FindOne(ctx, bson.M{"uid": uid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.Resource{}, errors.New(errors.CodeStoreQuery, "resource not found").
			WithContext("uid", uid)
	}
	if err != nil {
		return model.Resource{}, errors.Wrap(err, errors.CodeStoreQuery, "resource lookup failed").
			WithContext("uid", uid)
	}
	return doc, nil
}

func (s *MongoStore) GetDatum(ctx context.Context, datumID string) (model.Datum, error) {
	var doc model.Datum
	err := s.datums.FindOne(ctx, bson.M{"datum_id": datumID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.Datum{}, errors.New(errors.CodeStoreQuery, "datum not found").
			WithContext("datum_id", datumID)
	}
	if err != nil {
		return model.Datum{}, errors.Wrap(err, errors.CodeStoreQuery, "datum lookup failed").
			WithContext("datum_id", datumID)
	}
	return doc, nil
}

func (s *MongoStore) Datums(ctx context.Context, resourceUID string) (DatumCursor, error) {
	cur, err := s.datums.Find(ctx, bson.M{"resource": resourceUID})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "datum query failed").
			WithContext("resource", resourceUID)
	}
	return &mongoDatumCursor{cur: cur}, nil
}

func (s *MongoStore) Runs(ctx context.Context, q Query) (RunCursor, error) {
	filter := bson.M{}
	for k, v := range q.Raw {
		filter[k] = v
	}
	if q.UID != "" {
		filter["uid"] = q.UID
	}
	if q.ScanID != 0 {
		filter["scan_id"] = q.ScanID
	}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: -1}})
	cur, err := s.runStarts.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreQuery, "run_start query failed")
	}
	return &mongoRunCursor{cur: cur}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	err1 := s.mdsClient.Disconnect(ctx)
	err2 := s.assetsClient.Disconnect(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}

// stripID drops the storage-internal identifier an inline map picks up
// during decoding. Emitted documents must not carry it.
func stripID(extra map[string]interface{}) {
	delete(extra, "_id")
}

// --- Cursors ---

type mongoEventCursor struct {
	cur *mongo.Cursor
	doc model.Event
	err error
}

func (c *mongoEventCursor) Next(ctx context.Context) bool {
	if !c.cur.Next(ctx) {
		return false
	}
	var doc model.Event
	if err := c.cur.Decode(&doc); err != nil {
		c.err = errors.Wrap(err, errors.CodeStoreQuery, "event decode failed")
		return false
	}
	c.doc = doc
	return true
}

func (c *mongoEventCursor) Event() model.Event { return c.doc }

func (c *mongoEventCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return errors.Wrap(err, errors.CodeStoreQuery, "event cursor failed")
	}
	return nil
}

func (c *mongoEventCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

type mongoDatumCursor struct {
	cur *mongo.Cursor
	doc model.Datum
	err error
}

func (c *mongoDatumCursor) Next(ctx context.Context) bool {
	if !c.cur.Next(ctx) {
		return false
	}
	var doc model.Datum
	if err := c.cur.Decode(&doc); err != nil {
		c.err = errors.Wrap(err, errors.CodeStoreQuery, "datum decode failed")
		return false
	}
	c.doc = doc
	return true
}

func (c *mongoDatumCursor) Datum() model.Datum { return c.doc }

func (c *mongoDatumCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return errors.Wrap(err, errors.CodeStoreQuery, "datum cursor failed")
	}
	return nil
}

func (c *mongoDatumCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

type mongoRunCursor struct {
	cur *mongo.Cursor
	doc model.RunStart
	err error
}

func (c *mongoRunCursor) Next(ctx context.Context) bool {
	if !c.cur.Next(ctx) {
		return false
	}
	var doc model.RunStart
	if err := c.cur.Decode(&doc); err != nil {
		c.err = errors.Wrap(err, errors.CodeStoreQuery, "run_start decode failed")
		return false
	}
	stripID(doc.Extra)
	c.doc = doc
	return true
}

func (c *mongoRunCursor) RunStart() model.RunStart { return c.doc }

func (c *mongoRunCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return errors.Wrap(err, errors.CodeStoreQuery, "run_start cursor failed")
	}
	return nil
}

func (c *mongoRunCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
