package index

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"piiindex/internal/apperr"
)

// refDelimiter is the fixed delimiter between refs inside the relational
// row's refs column. Embedded
// delimiters in refs are forbidden by contract.
const refDelimiter = ","

// neverExpires stands in for a zero-value ExpiresAt ("no TTL") in stored
// documents. A real zero time.Time sorts before time.Now() and would be
// excluded by every "$gt: now" query and deleted by the first sweep, the
// opposite of MemStore's "zero means never expires" contract; persisting
// this far-future sentinel instead keeps both backends agreeing on an
// entry indexed with no TTL.
var neverExpires = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

func normalizeExpiry(t time.Time) time.Time {
	if t.IsZero() {
		return neverExpires
	}
	return t
}

// indexRow mirrors a relational row shape (key, delimited refs, field tag,
// timestamps), persisted here as a MongoDB document since no SQL driver is
// wired into this module; it is still queried and mutated row-at-a-time
// rather than as a native nested document model.
type indexRow struct {
	Key       string    `bson:"_id"`
	Refs      string    `bson:"refs"`
	FieldTag  string    `bson:"field_tag"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoStore is the relational-shaped index-store backend.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri, verifies the connection, and ensures the
// secondary indices this store depends on: field_tag (audit queries),
// expires_at (sweep), and the composite (expires_at, field_tag) for bulk
// retention cleanup.
func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	if uri == "" {
		return nil, apperr.New(apperr.StorePermanent, "mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "mongo connect", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, apperr.Wrap(apperr.StoreTransient, "mongo ping", err)
	}

	coll := cli.Database(dbName).Collection(collName)
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "field_tag", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}, {Key: "field_tag", Value: 1}}},
	})

	return &MongoStore{client: cli, coll: coll}, nil
}

func (s *MongoStore) CommitBatch(ctx context.Context, ops []AddOp) error {
	if len(ops) == 0 {
		return nil
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "start session", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		now := time.Now()
		for _, op := range ops {
			if err := s.applyOne(sc, op, now); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "commit batch", err)
	}
	return nil
}

func (s *MongoStore) applyOne(ctx context.Context, op AddOp, now time.Time) error {
	var row indexRow
	err := s.coll.FindOne(ctx, bson.M{"_id": op.Key}).Decode(&row)
	switch {
	case err == mongo.ErrNoDocuments:
		row = indexRow{
			Key:       op.Key,
			Refs:      op.Ref,
			FieldTag:  op.FieldTag,
			CreatedAt: now,
			ExpiresAt: normalizeExpiry(op.ExpiresAt),
		}
		_, insertErr := s.coll.InsertOne(ctx, row)
		return insertErr
	case err != nil:
		return err
	}

	refs := splitRefs(row.Refs)
	if !containsRef(refs, op.Ref) {
		refs = append(refs, op.Ref)
	}
	// Widen on the raw (un-normalized) values, the same rule MemStore
	// applies: a zero ExpiresAt is the chronological minimum here, not a
	// "never expires" marker, so it only ever widens a key's expiry
	// forward, exactly as entries.expiresAt does in memstore.go.
	rawExisting := row.ExpiresAt
	if rawExisting.Equal(neverExpires) {
		rawExisting = time.Time{}
	}
	newExpiry := rawExisting
	if op.ExpiresAt.After(newExpiry) {
		newExpiry = op.ExpiresAt
	}
	_, err = s.coll.UpdateByID(ctx, op.Key, bson.M{"$set": bson.M{
		"refs":       joinRefs(refs),
		"expires_at": normalizeExpiry(newExpiry),
	}})
	return err
}

func (s *MongoStore) Remove(ctx context.Context, key, ref string) error {
	var row indexRow
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "remove lookup", err)
	}
	refs := splitRefs(row.Refs)
	remaining := refs[:0]
	for _, r := range refs {
		if r != ref {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		_, err = s.coll.DeleteOne(ctx, bson.M{"_id": key})
	} else {
		_, err = s.coll.UpdateByID(ctx, key, bson.M{"$set": bson.M{"refs": joinRefs(remaining)}})
	}
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "remove", err)
	}
	return nil
}

func (s *MongoStore) Lookup(ctx context.Context, key string) (map[string]struct{}, error) {
	var row indexRow
	err := s.coll.FindOne(ctx, bson.M{"_id": key, "expires_at": bson.M{"$gt": time.Now()}}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "lookup", err)
	}
	return toSet(splitRefs(row.Refs)), nil
}

// Intersect emulates a grouped IN-clause SQL technique as a Mongo
// aggregation: match the key set, unwind each row's delimited refs, group
// by ref counting how many of the supplied keys it appeared under, and
// keep only refs whose count equals len(keys).
func (s *MongoStore) Intersect(ctx context.Context, keys []string) (map[string]struct{}, error) {
	if len(keys) == 0 {
		return map[string]struct{}{}, nil
	}
	// Repeated keys (e.g. the grams of "aaaa") match one row each, so count
	// against the distinct key set.
	seen := make(map[string]struct{}, len(keys))
	distinct := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			distinct = append(distinct, k)
		}
	}
	keys = distinct
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"_id":        bson.M{"$in": keys},
			"expires_at": bson.M{"$gt": time.Now()},
		}}},
		{{Key: "$project", Value: bson.M{"refArr": bson.M{"$split": bson.A{"$refs", refDelimiter}}}}},
		{{Key: "$unwind", Value: "$refArr"}},
		{{Key: "$group", Value: bson.M{"_id": "$refArr", "n": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"n": len(keys)}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "intersect aggregate", err)
	}
	defer cur.Close(ctx)

	out := make(map[string]struct{})
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, apperr.Wrap(apperr.Integrity, "decode intersect row", err)
		}
		if row.ID != "" {
			out[row.ID] = struct{}{}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "intersect cursor", err)
	}
	// A key with zero matching rows collapses to an empty intersection,
	// matching the memory backend's short-circuit on any missing key.
	for _, k := range keys {
		n, err := s.coll.CountDocuments(ctx, bson.M{"_id": k, "expires_at": bson.M{"$gt": time.Now()}})
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreTransient, "intersect presence check", err)
		}
		if n == 0 {
			return map[string]struct{}{}, nil
		}
	}
	return out, nil
}

func (s *MongoStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreTransient, "expire sweep", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{PerTagCounts: make(map[string]int)}
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return st, apperr.Wrap(apperr.StoreTransient, "stats find", err)
	}
	defer cur.Close(ctx)
	now := time.Now()
	for cur.Next(ctx) {
		var row indexRow
		if err := cur.Decode(&row); err != nil {
			continue
		}
		st.TotalKeys++
		st.PerTagCounts[tagOf(row.Key)]++
		if st.Oldest.IsZero() || row.CreatedAt.Before(st.Oldest) {
			st.Oldest = row.CreatedAt
		}
		if row.CreatedAt.After(st.Newest) {
			st.Newest = row.CreatedAt
		}
		if !row.ExpiresAt.IsZero() && !now.Before(row.ExpiresAt) {
			st.ExpiredPending++
		}
	}
	return st, cur.Err()
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func splitRefs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, refDelimiter)
}

func joinRefs(refs []string) string {
	return strings.Join(refs, refDelimiter)
}

func containsRef(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func toSet(refs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		out[r] = struct{}{}
	}
	return out
}

var errRefContainsDelimiter = errors.New("index: ref must not contain the posting-list delimiter")

// ValidateRef enforces the wire contract that refs never embed the
// delimiter.
func ValidateRef(ref string) error {
	if strings.Contains(ref, refDelimiter) {
		return apperr.Wrap(apperr.InvalidInput, "ref contains delimiter", errRefContainsDelimiter)
	}
	return nil
}
