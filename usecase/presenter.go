package usecase

import (
	"sync"
	"time"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

// DefaultBusyLabel is shown while a workflow runs
const DefaultBusyLabel = "Aguarde..."

// Presenter holds the busy indicator and pushes its changes to UI clients
type Presenter struct {
	mu           sync.Mutex
	busy         bool
	label        string
	defaultLabel string
	publisher    repositories.UIPublisher
	now          func() time.Time
}

// NewPresenter creates a presenter; publisher may be nil
func NewPresenter(defaultLabel string, publisher repositories.UIPublisher) *Presenter {
	if defaultLabel == "" {
		defaultLabel = DefaultBusyLabel
	}
	return &Presenter{
		defaultLabel: defaultLabel,
		publisher:    publisher,
		now:          time.Now,
	}
}

// Present shows the busy indicator; an empty label uses the default
func (p *Presenter) Present(label string) {
	if label == "" {
		label = p.defaultLabel
	}
	p.set(true, label)
}

// Dismiss hides the busy indicator. Dismissing twice is harmless.
func (p *Presenter) Dismiss() {
	p.set(false, "")
}

// Busy returns whether the indicator is shown and its label
func (p *Presenter) Busy() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy, p.label
}

func (p *Presenter) set(busy bool, label string) {
	p.mu.Lock()
	changed := p.busy != busy || p.label != label
	p.busy = busy
	p.label = label
	p.mu.Unlock()

	if !changed || p.publisher == nil {
		return
	}
	p.publisher.Publish(domain.UIEvent{
		Type:      domain.UIEventBusy,
		Busy:      &busy,
		Label:     label,
		Timestamp: p.now(),
	})
}
