package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
)

// DisplayStore is the slice of the event-log client the display tools need.
// *messagedb.Client satisfies it.
type DisplayStore interface {
	ReadAllStream(ctx context.Context, stream string) ([]events.Event, error)
	Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error)
}

// RegisterDisplayTools adds the two preference tools for one thread. The
// tools close over the store and thread id; the model only ever supplies the
// instruction, so a registry serves exactly one thread's loop.
func RegisterDisplayTools(reg *Registry, store DisplayStore, threadID string) error {
	if store == nil {
		return errors.New("display tools need a store")
	}
	if strings.TrimSpace(threadID) == "" {
		return errors.New("display tools need a thread id")
	}
	stream := DisplayPrefsStream(threadID)

	get := Tool{
		Name:        "get_display_preferences",
		Description: "Get the current display preferences for how events are rendered in the UI",
		Permission:  PermissionSafe,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []any{},
		},
		Func: func(ctx context.Context, _ map[string]any) (any, error) {
			evts, err := store.ReadAllStream(ctx, stream)
			if err != nil {
				return nil, fmt.Errorf("reading display preferences: %w", err)
			}
			return projections.DisplayPrefs(evts), nil
		},
	}

	set := Tool{
		Name:        "set_display_preferences",
		Description: "Update how events are displayed in the UI",
		Permission:  PermissionSafe,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "The display instruction",
				},
				"merge_with_existing": map[string]any{
					"type":        "boolean",
					"description": "If true, merge with current preferences. If false, replace.",
					"default":     true,
				},
			},
			"required": []any{"instruction"},
		},
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			instruction, _ := args["instruction"].(string)
			if strings.TrimSpace(instruction) == "" {
				return nil, errors.New("instruction cannot be empty")
			}
			merge := true
			if v, ok := args["merge_with_existing"].(bool); ok {
				merge = v
			}

			current := ""
			merged := instruction
			if merge {
				evts, err := store.ReadAllStream(ctx, stream)
				if err != nil {
					return nil, fmt.Errorf("reading display preferences: %w", err)
				}
				current = projections.DisplayPrefs(evts)
				merged = MergeDisplayPrefs(current, instruction)
			}

			payload, err := events.NewDisplayPreferenceUpdated(instruction, merged, current)
			if err != nil {
				return nil, err
			}
			if _, err := store.Append(ctx, stream, payload, nil); err != nil {
				return nil, fmt.Errorf("writing display preferences: %w", err)
			}
			return "Display preferences updated to: " + merged, nil
		},
	}

	if err := reg.Register(get); err != nil {
		return err
	}
	return reg.Register(set)
}

// DisplayPrefsStream names the side stream holding a thread's rendering
// preferences.
func DisplayPrefsStream(threadID string) string {
	return "display-prefs:" + threadID
}

// MergeDisplayPrefs combines the current preference string with a new
// instruction. An empty or default current value is replaced outright; a
// "default" or "reset" instruction clears back to the default; anything else
// is appended with ". ".
func MergeDisplayPrefs(current, instruction string) string {
	if current == "" || current == projections.DefaultDisplayPrefs {
		return instruction
	}
	switch strings.ToLower(instruction) {
	case "default", "reset":
		return projections.DefaultDisplayPrefs
	}
	return current + ". " + instruction
}
