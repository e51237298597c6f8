package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const defaultListLimit = 50

// WorkflowRepository stores workflow records in the "workflows" collection
type WorkflowRepository struct {
	collection *mongo.Collection
	closer     func(ctx context.Context) error
	logger     *zap.Logger
}

// Ensure WorkflowRepository implements the HistoryRepository interface
var _ repositories.HistoryRepository = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a repository on db. Close does not disconnect
// a database it did not open.
func NewWorkflowRepository(db *mongo.Database, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		collection: db.Collection("workflows"),
		logger:     logger,
	}
}

// NewWorkflowRepositoryFromClient creates a repository that owns client
func NewWorkflowRepositoryFromClient(client *Client, logger *zap.Logger) *WorkflowRepository {
	r := NewWorkflowRepository(client.Database, logger)
	r.closer = client.Close
	return r
}

// EnsureIndexes creates the started_at index used by List
func (r *WorkflowRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow index: %w", err)
	}
	return nil
}

// Save upserts the record by id
func (r *WorkflowRepository) Save(ctx context.Context, record *entities.WorkflowRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": record.ID},
		record,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow record: %w", err)
	}

	r.logger.Debug("Workflow record saved", zap.String("workflowID", record.ID))
	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entities.WorkflowRecord, error) {
	if id == "" {
		return nil, errors.New("workflow ID cannot be empty")
	}

	var record entities.WorkflowRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get workflow record %s: %w", id, err)
	}
	return &record, nil
}

// List returns the most recent records first
func (r *WorkflowRepository) List(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*entities.WorkflowRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode workflow records: %w", err)
	}
	return records, nil
}

func (r *WorkflowRepository) Close(ctx context.Context) error {
	if r.closer == nil {
		return nil
	}
	return r.closer(ctx)
}
