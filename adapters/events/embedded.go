package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedServer runs an in-process NATS server for single-host setups
type EmbeddedServer struct {
	ns     *server.Server
	logger *zap.Logger
}

// StartEmbedded starts a server listening on host:port; port -1 picks a free port
func StartEmbedded(host string, port int, logger *zap.Logger) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	logger.Info("Embedded NATS server started", zap.String("url", ns.ClientURL()))
	return &EmbeddedServer{ns: ns, logger: logger}, nil
}

// ClientURL returns the URL clients connect to
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.logger.Info("Shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
