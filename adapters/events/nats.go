package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const defaultSubjectPrefix = "ditado"

// NATSConfig holds the connection settings for the event publisher
type NATSConfig struct {
	Servers        []string      `yaml:"servers"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// WorkflowEvent is the payload published when a workflow finishes
type WorkflowEvent struct {
	Record     *entities.WorkflowRecord `json:"record"`
	DurationMS int64                    `json:"duration_ms"`
}

// NATSPublisher publishes finished workflows on <prefix>.workflow.<kind>.<outcome>
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Ensure NATSPublisher implements the EventPublisher interface
var _ repositories.EventPublisher = (*NATSPublisher)(nil)

// Connect dials the configured servers
func Connect(config NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if len(config.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	options := []nats.Option{
		nats.Name("ditado"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("server", conn.ConnectedUrl()))
		}),
	}
	if config.Username != "" || config.Password != "" {
		options = append(options, nats.UserInfo(config.Username, config.Password))
	}
	if config.Token != "" {
		options = append(options, nats.Token(config.Token))
	}

	url := strings.Join(config.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := config.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	logger.Info("Connected to NATS", zap.String("servers", url), zap.String("subjectPrefix", prefix))
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject a record is published on
func (p *NATSPublisher) Subject(record *entities.WorkflowRecord) string {
	return fmt.Sprintf("%s.workflow.%s.%s", p.prefix, record.Kind, record.Outcome)
}

func (p *NATSPublisher) PublishWorkflow(ctx context.Context, record *entities.WorkflowRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(WorkflowEvent{Record: record, DurationMS: record.Duration().Milliseconds()})
	if err != nil {
		return fmt.Errorf("failed to encode workflow event: %w", err)
	}

	subject := p.Subject(record)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish workflow event: %w", err)
	}

	p.logger.Debug("Workflow event published", zap.String("subject", subject), zap.String("workflowID", record.ID))
	return nil
}

// Healthy reports whether the connection is up
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	p.logger.Info("Closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// NoopPublisher discards events
type NoopPublisher struct{}

func (NoopPublisher) PublishWorkflow(context.Context, *entities.WorkflowRecord) error { return nil }

func (NoopPublisher) Close() error { return nil }
