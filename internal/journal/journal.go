// Package journal is the reference application the daemon hosts: every
// dispatched command is appended to the instance's event log and published
// on its bus. It doubles as a smoke surface for the adapter stack.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apphost-dev/apphost/adapters/eventlog"
	"github.com/apphost-dev/apphost/adapters/pubsub"
	"github.com/apphost-dev/apphost/host"
	"github.com/apphost-dev/apphost/internal/supervise"
	"github.com/apphost-dev/apphost/pkg/logger"
	"github.com/apphost-dev/apphost/router"
)

// Stream is the event log stream journal entries land on.
const Stream = "journal"

// Topic is the bus topic journal entries are announced on.
const Topic = "journal.recorded"

// Command is the journal's only command: record this entry.
type Command struct {
	Type   string          `json:"type"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Decode is the admin wire decoder for journal applications.
func Decode(commandType string, fields json.RawMessage) (any, error) {
	if commandType == "" {
		return nil, fmt.Errorf("journal: command type is required")
	}
	return Command{Type: commandType, Fields: fields}, nil
}

// NewTable builds the journal routing table over the supervisor's adapter
// trees.
func NewTable(sup *supervise.Supervisor, log *logger.Logger) *router.Table {
	if log == nil {
		log = logger.NewDefault("journal")
	}
	table := router.New(log)
	table.Route(Command{}, func(ctx context.Context, command any, opts host.DispatchOptions) (router.Outcome, error) {
		cmd := command.(Command)

		tree, ok := sup.Lookup(opts.Application)
		if !ok {
			return router.Outcome{}, &host.NotStartedError{Identity: opts.Application}
		}

		version, err := tree.EventLog().Append(ctx, Stream, eventlog.ExpectAny, []eventlog.Event{{
			Type:    cmd.Type,
			Payload: cmd.Fields,
		}})
		if err != nil {
			return router.Outcome{}, fmt.Errorf("journal append: %w", err)
		}

		body, err := json.Marshal(cmd)
		if err != nil {
			return router.Outcome{}, fmt.Errorf("encode journal entry: %w", err)
		}
		err = tree.Bus().Publish(ctx, pubsub.Message{
			Topic:    Topic,
			Body:     body,
			Metadata: map[string]string{"application": opts.Application},
		})
		if err != nil {
			log.WithError(err).WithField("application", opts.Application).Warn("journal publish failed")
		}

		return router.Outcome{
			State:   cmd.Fields,
			Version: version,
			Metadata: map[string]any{
				"type": cmd.Type,
			},
		}, nil
	})
	return table
}
