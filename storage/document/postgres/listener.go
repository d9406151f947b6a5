package pgdoc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/trigger"
)

const notifyChannel = "document_changes"

// Source feeds the dispatcher off pg_notify payloads emitted by the
// documents table trigger. Payloads over postgres' 8000 byte notification
// limit would be truncated; our documents stay well below it.
type Source struct {
	conf   *core.Config
	logger core.Logger
}

var _ trigger.Source = (*Source)(nil)

func NewSource(conf *core.Config, logger core.Logger) *Source {
	return &Source{conf: conf, logger: logger}
}

type notification struct {
	Op     string           `json:"op"`
	Path   string           `json:"path"`
	Before trigger.Snapshot `json:"before"`
	After  trigger.Snapshot `json:"after"`
}

func (src *Source) Events(ctx context.Context) (<-chan trigger.Event, error) {
	dsn := DSN(src.conf.Database.Name, false, src.conf)
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			src.logger.Error("notification listener", "error", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		return nil, errors.Wrap(err, "listening for document changes")
	}

	ch := make(chan trigger.Event, 256)
	go func() {
		defer close(ch)
		defer func() { _ = listener.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// connection re-established; missed notifications are
					// recovered by the recompute endpoint
					continue
				}
				evt, ok := src.translate(n.Extra)
				if !ok {
					continue
				}
				select {
				case ch <- evt:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()
	return ch, nil
}

func (src *Source) translate(payload string) (trigger.Event, bool) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		src.logger.Error("decoding notification payload", "error", err)
		return trigger.Event{}, false
	}

	var kind trigger.Kind
	switch n.Op {
	case "INSERT":
		kind = trigger.KindCreate
	case "UPDATE":
		kind = trigger.KindUpdate
	case "DELETE":
		kind = trigger.KindDelete
	default:
		src.logger.Warn("unexpected notification op", "op", n.Op, "path", n.Path)
		return trigger.Event{}, false
	}

	return trigger.Event{
		Path:   n.Path,
		Kind:   kind,
		Before: n.Before,
		After:  n.After,
		At:     time.Now().UTC(),
	}, true
}
