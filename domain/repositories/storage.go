package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/ditado/domain/entities"
)

// MediaStore is the local directory staging recordings, converted files and synthesized audio
type MediaStore interface {
	Dir() string
	Path(name string) string
	ReadDataURL(name string) (string, error)
	ReadFile(name string) ([]byte, error)
	// WriteFile writes data to name, replacing any existing file
	WriteFile(name string, data []byte) error
	Remove(name string) error
}

// ErrRecordNotFound is returned by HistoryRepository.GetByID for unknown ids
var ErrRecordNotFound = errors.New("workflow record not found")

// HistoryRepository persists finished workflow records
type HistoryRepository interface {
	Save(ctx context.Context, record *entities.WorkflowRecord) error
	GetByID(ctx context.Context, id string) (*entities.WorkflowRecord, error)
	List(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error)
	Close(ctx context.Context) error
}

// ArtifactArchive copies workflow artifacts to long-term storage
type ArtifactArchive interface {
	// Archive uploads the local file and returns its remote location
	Archive(ctx context.Context, workflowID, localPath string) (string, error)
}

// EventPublisher announces finished workflows to other systems
type EventPublisher interface {
	PublishWorkflow(ctx context.Context, record *entities.WorkflowRecord) error
	Close() error
}
