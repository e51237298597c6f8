package repositories

import "github.com/satriahrh/ditado/domain"

// UIPublisher pushes events to connected UI clients
type UIPublisher interface {
	Publish(event domain.UIEvent)
}
