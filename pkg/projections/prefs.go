package projections

import (
	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// DefaultDisplayPrefs is the rendering instruction used before a thread has
// expressed any preference.
const DefaultDisplayPrefs = "default"

// DisplayPrefs reduces a thread's display-prefs side stream to its current
// rendering instruction: the merged_preferences of the most recent
// DisplayPreferenceUpdated carrying one, or DefaultDisplayPrefs when none
// does.
func DisplayPrefs(evts []events.Event) string {
	for i := len(evts) - 1; i >= 0; i-- {
		if p, ok := events.Decode(evts[i]).(events.DisplayPreferenceUpdated); ok && p.MergedPreferences != "" {
			return p.MergedPreferences
		}
	}
	return DefaultDisplayPrefs
}
