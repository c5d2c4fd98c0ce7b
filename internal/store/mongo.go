package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cognispeech/internal/models"
)

// Mongo implements Store on a MongoDB collection. Compare-and-set
// transitions use FindOneAndUpdate with the expected state in the filter,
// so the document is only rewritten while it still matches.
type Mongo struct {
	client *mongo.Client
	jobs   *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// NewMongo connects to MongoDB and prepares the job collection and its
// indexes. The idempotency-key index is sparse so keyless jobs never
// collide.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	jobs := client.Database(database).Collection("analysis_jobs")
	_, err = jobs.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "logical_id", Value: 1}, {Key: "attempt", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "state", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Mongo{client: client, jobs: jobs}, nil
}

// Close disconnects from MongoDB.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Ping verifies the deployment is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// CreateJob persists a new attempt record.
func (m *Mongo) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := m.jobs.InsertOne(ctx, job)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJobByID retrieves a job by id.
func (m *Mongo) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := m.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobByIdempotencyKey retrieves the job created under key, or
// (nil, nil) when no such submission exists.
func (m *Mongo) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	var job models.Job
	err := m.jobs.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Transition atomically applies a compare-and-set state change.
func (m *Mongo) Transition(ctx context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error) {
	if err := ValidateTransition(expected, next, change); err != nil {
		return nil, err
	}

	set := bson.M{
		"state":      next,
		"updated_at": time.Now().UTC(),
	}
	if change.Result != nil {
		set["result"] = change.Result
	}
	if change.Failure != nil {
		set["failure"] = change.Failure
	}

	var job models.Job
	err := m.jobs.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": expected},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&job)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	// Nothing matched: either the job is gone or the state moved on.
	current, err := m.GetJobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current.State, expected)
}

// ListJobsByState returns jobs in the given state, oldest first.
func (m *Mongo) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.jobs.Find(ctx, bson.M{"state": state}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	var jobs []*models.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// ListJobsByLogicalID returns every attempt of a logical job in ascending
// attempt order.
func (m *Mongo) ListJobsByLogicalID(ctx context.Context, logicalID string) ([]*models.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "attempt", Value: 1}})

	cursor, err := m.jobs.Find(ctx, bson.M{"logical_id": logicalID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	var jobs []*models.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByState returns the number of jobs per state.
func (m *Mongo) CountJobsByState(ctx context.Context) (map[models.JobState]int64, error) {
	cursor, err := m.jobs.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	var rows []struct {
		State models.JobState `bson:"_id"`
		Count int64           `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode counts: %w", err)
	}

	counts := make(map[models.JobState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}
