package notify

import (
	"context"
	"sync"

	"github.com/mcdev12/festtrivia/go/internal/content"
	"github.com/rs/zerolog"
)

// Kind is the severity of a user-visible notification.
type Kind string

const (
	KindDefault     Kind = "default"
	KindWarning     Kind = "warning"
	KindDestructive Kind = "destructive"
)

// Notice is a user-visible notification. TitleKey/BodyKey are content keys; Title/Body are
// used when the keys do not resolve.
type Notice struct {
	Kind     Kind
	TitleKey string
	BodyKey  string
	Title    string
	Body     string
}

// Notifier surfaces notices to the player (toasts in the web client).
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NoOpNotifier drops every notice.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Notice) {}

// LogNotifier resolves notice texts through a content store and writes them to a logger.
type LogNotifier struct {
	logger  zerolog.Logger
	content content.Store
	locale  string
}

// NewLogNotifier creates a LogNotifier. store may be nil.
func NewLogNotifier(logger zerolog.Logger, store content.Store, locale string) *LogNotifier {
	return &LogNotifier{logger: logger, content: store, locale: locale}
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) {
	title := content.Text(ctx, n.content, n.locale, notice.TitleKey, notice.Title)
	body := content.Text(ctx, n.content, n.locale, notice.BodyKey, notice.Body)

	var ev *zerolog.Event
	switch notice.Kind {
	case KindDestructive:
		ev = n.logger.Error()
	case KindWarning:
		ev = n.logger.Warn()
	default:
		ev = n.logger.Info()
	}
	ev.Str("kind", string(notice.Kind)).Str("body", body).Msg(title)
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many recorded notices match kind and title key.
func (r *Recorder) Count(kind Kind, titleKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notices {
		if n.Kind == kind && n.TitleKey == titleKey {
			count++
		}
	}
	return count
}
