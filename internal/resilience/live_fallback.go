package resilience

import (
	"context"

	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// LiveFallback implements [live.Provider] by connecting to the first healthy
// backend. Failover happens at connect time only. Once a session is returned
// it stays bound to that backend.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred
// backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend tried after the existing ones.
func (f *LiveFallback) AddFallback(name string, p live.Provider) {
	f.group.AddFallback(name, p)
}

// Backends returns the backend names in the order they are tried.
func (f *LiveFallback) Backends() []string { return f.group.Names() }

// Connect opens a session on the first backend that accepts the connection.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}
