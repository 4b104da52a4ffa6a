package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// MaxInValues bounds the values of an In filter.
	MaxInValues = 1000
	// MaxRegexLength bounds the pattern of a Regex filter.
	MaxRegexLength = 256
)

var filterKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)

// ValidationError reports a filter rejected before reaching the database.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// ValidateFilterKey rejects keys that could carry query operators.
func ValidateFilterKey(key string) error {
	if !filterKeyPattern.MatchString(key) {
		return &ValidationError{
			Field:  "filter.key",
			Value:  key,
			Reason: "must contain only alphanumeric characters, dots, and underscores",
		}
	}
	return nil
}

// Filter is a typed condition on one field. Plain values in a filter map
// mean equality.
type Filter interface {
	criteria(field string) (bson.E, error)
}

// Eq matches documents whose field equals Value.
type Eq struct{ Value any }

// In matches documents whose field is one of Values.
type In struct{ Values []any }

// Range matches documents whose field lies within the set bounds.
type Range struct{ Gt, Gte, Lt, Lte any }

// Regex matches documents whose field matches Pattern.
type Regex struct{ Pattern, Options string }

func (f Eq) criteria(field string) (bson.E, error) {
	if err := checkScalar(f.Value); err != nil {
		return bson.E{}, err
	}
	return bson.E{Key: field, Value: f.Value}, nil
}

func (f In) criteria(field string) (bson.E, error) {
	switch {
	case len(f.Values) == 0:
		return bson.E{}, &ValidationError{Field: "filter.value", Value: field, Reason: "IN values must not be empty"}
	case len(f.Values) > MaxInValues:
		return bson.E{}, &ValidationError{Field: "filter.value", Value: field, Reason: fmt.Sprintf("IN values must be <= %d", MaxInValues)}
	}
	for _, v := range f.Values {
		if err := checkScalar(v); err != nil {
			return bson.E{}, err
		}
	}
	return bson.E{Key: field, Value: bson.D{{Key: "$in", Value: f.Values}}}, nil
}

func (f Range) criteria(field string) (bson.E, error) {
	var cond bson.D
	for _, b := range []struct {
		op string
		v  any
	}{{"$gt", f.Gt}, {"$gte", f.Gte}, {"$lt", f.Lt}, {"$lte", f.Lte}} {
		if b.v == nil {
			continue
		}
		if err := checkScalar(b.v); err != nil {
			return bson.E{}, err
		}
		cond = append(cond, bson.E{Key: b.op, Value: b.v})
	}
	if len(cond) == 0 {
		return bson.E{}, &ValidationError{Field: "filter.value", Value: field, Reason: "range needs at least one bound"}
	}
	return bson.E{Key: field, Value: cond}, nil
}

func (f Regex) criteria(field string) (bson.E, error) {
	switch {
	case f.Pattern == "":
		return bson.E{}, &ValidationError{Field: "filter.value", Value: field, Reason: "regex pattern must not be blank"}
	case len(f.Pattern) > MaxRegexLength:
		return bson.E{}, &ValidationError{Field: "filter.value", Value: field, Reason: fmt.Sprintf("regex pattern length must be <= %d", MaxRegexLength)}
	}
	return bson.E{Key: field, Value: primitive.Regex{Pattern: f.Pattern, Options: f.Options}}, nil
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	primitivePath = reflect.TypeOf(primitive.ObjectID{}).PkgPath()
)

// checkScalar rejects documents smuggled in as values. Pointers are
// followed; structs other than time.Time and bson primitives marshal to
// documents and are rejected too.
func checkScalar(v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Interface().(type) {
	case bson.D, bson.E, bson.M, bson.Raw:
		return &ValidationError{Field: "filter.value", Value: v, Reason: "must not be a document; use typed filters"}
	}
	switch rv.Kind() {
	case reflect.Map:
		return &ValidationError{Field: "filter.value", Value: v, Reason: "must not be a map; use typed filters"}
	case reflect.Struct:
		if t := rv.Type(); t == timeType || t.PkgPath() == primitivePath {
			return nil
		}
		return &ValidationError{Field: "filter.value", Value: v, Reason: "must not be a struct; use typed filters"}
	}
	return nil
}

// BuildFilter validates filter and converts it to a query document. Keys
// are sorted so equal filters give equal documents.
func BuildFilter(filter map[string]any) (bson.D, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	doc := bson.D{}
	for _, key := range keys {
		if err := ValidateFilterKey(key); err != nil {
			return nil, err
		}
		f, ok := filter[key].(Filter)
		if !ok {
			f = Eq{Value: filter[key]}
		}
		e, err := f.criteria(key)
		if err != nil {
			return nil, err
		}
		doc = append(doc, e)
	}
	return doc, nil
}

// Collection is the part of *mongo.Collection a Mongo source needs.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// MongoOption configures a Mongo source.
type MongoOption func(*mongoOptions)

type mongoOptions struct {
	filter    map[string]any
	pipeline  mongo.Pipeline
	batchSize int32
	log       *logrus.Entry
}

// WithFilter restricts the documents read.
func WithFilter(filter map[string]any) MongoOption {
	return func(o *mongoOptions) { o.filter = filter }
}

// WithPipeline reads through an aggregation pipeline. A filter, if any,
// becomes a leading $match stage.
func WithPipeline(pipeline mongo.Pipeline) MongoOption {
	return func(o *mongoOptions) { o.pipeline = pipeline }
}

// WithBatchSize sets the cursor batch size.
func WithBatchSize(n int32) MongoOption {
	return func(o *mongoOptions) { o.batchSize = n }
}

// WithMongoLogger sets the logger.
func WithMongoLogger(log *logrus.Entry) MongoOption {
	return func(o *mongoOptions) { o.log = log }
}

// Mongo streams documents of a collection decoded into T.
type Mongo[T any] struct {
	coll Collection
	opts mongoOptions
	name string

	mu     sync.Mutex
	active map[*mongo.Cursor]struct{}
}

// NewMongo creates a source over coll. The filter is validated here so a
// bad filter never reaches the server.
func NewMongo[T any](coll Collection, opts ...MongoOption) (*Mongo[T], error) {
	m := &Mongo[T]{
		coll:   coll,
		active: make(map[*mongo.Cursor]struct{}),
	}
	for _, opt := range opts {
		opt(&m.opts)
	}
	if _, err := BuildFilter(m.opts.filter); err != nil {
		return nil, err
	}
	kind := "mongodb"
	if m.opts.pipeline != nil {
		kind = "mongodb-aggregation"
	}
	var zero T
	m.name = fmt.Sprintf("%s:%s->%T", kind, coll.Name(), zero)
	if m.opts.log == nil {
		m.opts.log = discardLogger()
	}
	m.opts.log = m.opts.log.WithField("source", m.name)
	return m, nil
}

func (m *Mongo[T]) Name() string { return m.name }

// Records runs the query and decodes one record per document.
func (m *Mongo[T]) Records(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cur, err := m.open(ctx)
		if err != nil {
			m.opts.log.WithError(err).Error("query failed")
			yield(zero, NewError(m.name, "query", err))
			return
		}
		m.track(cur)
		defer m.release(cur)

		for cur.Next(ctx) {
			var record T
			if err := cur.Decode(&record); err != nil {
				yield(zero, NewError(m.name, "decode", err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil && !errors.Is(err, context.Canceled) {
			yield(zero, NewError(m.name, "read cursor", err))
		}
	}
}

// Close closes every cursor still open.
func (m *Mongo[T]) Close() error {
	m.mu.Lock()
	open := make([]*mongo.Cursor, 0, len(m.active))
	for cur := range m.active {
		open = append(open, cur)
	}
	clear(m.active)
	m.mu.Unlock()

	var errs []error
	for _, cur := range open {
		if err := cur.Close(context.Background()); err != nil {
			m.opts.log.WithError(err).Warn("failed to close cursor")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mongo[T]) open(ctx context.Context) (*mongo.Cursor, error) {
	filter, err := BuildFilter(m.opts.filter)
	if err != nil {
		return nil, err
	}

	if m.opts.pipeline != nil {
		pipeline := mongo.Pipeline{}
		if len(filter) > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
		}
		pipeline = append(pipeline, m.opts.pipeline...)
		if len(pipeline) == 0 {
			pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{}}})
		}
		aggOpts := options.Aggregate()
		if m.opts.batchSize > 0 {
			aggOpts.SetBatchSize(m.opts.batchSize)
		}
		m.opts.log.WithField("stages", len(pipeline)).Debug("starting aggregation")
		return m.coll.Aggregate(ctx, pipeline, aggOpts)
	}

	findOpts := options.Find()
	if m.opts.batchSize > 0 {
		findOpts.SetBatchSize(m.opts.batchSize)
	}
	m.opts.log.WithField("filter_keys", len(filter)).Debug("starting find")
	return m.coll.Find(ctx, filter, findOpts)
}

func (m *Mongo[T]) track(cur *mongo.Cursor) {
	m.mu.Lock()
	m.active[cur] = struct{}{}
	m.mu.Unlock()
}

func (m *Mongo[T]) release(cur *mongo.Cursor) {
	m.mu.Lock()
	delete(m.active, cur)
	m.mu.Unlock()
	if err := cur.Close(context.Background()); err != nil {
		m.opts.log.WithError(err).Warn("failed to close cursor")
	}
}
