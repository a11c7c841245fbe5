// Package bridge connects per-viewer sessions to scenario instances.
// Preview stays entirely session-local; Commit copies the session's
// inputs into the bound scenario's data nodes without running it, so a
// viewer can stage inputs and submit separately.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/internal/logging"
	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/internal/session"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/internal/streaming"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Default node names the bridge writes on commit.
const (
	DefaultTableNode  = "filtered_df"
	DefaultFilterNode = "gender_filter"
)

// Config selects which scenario nodes receive the session's inputs.
type Config struct {
	TableNode  string
	FilterNode string
}

// Bridge moves presentation state into scenario data nodes and relays
// execution failures back to interested listeners.
type Bridge struct {
	orch  engine.Orchestrator
	store store.Store
	sink  engine.EventSink
	log   *slog.Logger

	tableNode  string
	filterNode string
}

// New creates a Bridge. The sink may be nil; commit events are then only
// persisted, not fanned out.
func New(orch engine.Orchestrator, st store.Store, sink engine.EventSink, cfg Config, log *slog.Logger) *Bridge {
	if cfg.TableNode == "" {
		cfg.TableNode = DefaultTableNode
	}
	if cfg.FilterNode == "" {
		cfg.FilterNode = DefaultFilterNode
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		orch:       orch,
		store:      st,
		sink:       sink,
		log:        log,
		tableNode:  cfg.TableNode,
		filterNode: cfg.FilterNode,
	}
}

// Preview returns the session's derived view. It never touches the
// scenario; the session already recomputed on the last mutation.
func (b *Bridge) Preview(s *session.Session) session.View {
	return s.Snapshot()
}

// Commit writes the session's filtered preview subset and its filter
// selection into the bound scenario's input nodes and records a commit
// event. The scenario is NOT submitted; callers decide when to run it.
func (b *Bridge) Commit(ctx context.Context, s *session.Session) error {
	scenarioID := s.ScenarioID()
	if scenarioID == "" {
		return schema.NewError(schema.ErrCodeState, "session is not bound to a scenario")
	}

	ctx = logging.WithIDs(ctx, scenarioID, "", s.ID())

	subset := s.Filtered()
	table, err := nodes.Table(subset)
	if err != nil {
		return err
	}
	if err := b.orch.WriteNode(ctx, scenarioID, b.tableNode, table); err != nil {
		return err
	}

	filter := s.GenderFilter()
	if err := b.orch.WriteNode(ctx, scenarioID, b.filterNode, nodes.String(filter)); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"session_id":    s.ID(),
		"gender_filter": filter,
		"row_count":     subset.Len(),
	})
	event := &store.Event{
		ScenarioID: scenarioID,
		Type:       schema.EventCommitSucceeded,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	if err := b.store.AppendEvent(ctx, event); err != nil {
		return schema.NewError(schema.ErrCodeStore, "record commit event").WithCause(err)
	}
	if b.sink != nil {
		b.sink.Emit(event)
	}

	b.log.InfoContext(ctx, "session committed to scenario", "gender_filter", filter)
	return nil
}

// CommitAndBind creates a scenario for an unbound session, binds it and
// commits in one step.
func (b *Bridge) CommitAndBind(ctx context.Context, s *session.Session, configName string) (string, error) {
	if s.ScenarioID() == "" {
		sc, err := b.orch.CreateScenario(ctx, configName)
		if err != nil {
			return "", err
		}
		s.BindScenario(sc.ID)
	}
	if err := b.Commit(ctx, s); err != nil {
		return "", err
	}
	return s.ScenarioID(), nil
}

// FailureNotifier is invoked for every scenario failure relayed by
// NotifyFailures.
type FailureNotifier func(event streaming.StreamEvent)

// NotifyFailures subscribes to failure events on the hub and relays them
// to fn until ctx is cancelled. It returns after the subscription is
// established; relaying happens on a background goroutine.
func (b *Bridge) NotifyFailures(ctx context.Context, hub streaming.EventHub, fn FailureNotifier) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventScenarioFailed, schema.EventExecutionFailed, schema.EventTaskFailed},
	})
	if err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.log.Warn("scenario failure",
					"scenario_id", ev.ScenarioID,
					"task_id", ev.TaskID,
					"event_type", ev.EventType)
				fn(ev)
			}
		}
	}()
	return nil
}
