// Package render turns agent event streams into HTML fragments through a
// model client, and serves the result over HTTP with server-sent events.
//
// Rendering is a pure function of the thread's events plus the projected
// display preferences: the model is prompted to emit a styled HTML fragment,
// the reply is unwrapped from markdown fences when present, and the result
// is sanitised before it reaches a browser.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

// ErrEmptyRendering reports a model reply with no usable text.
var ErrEmptyRendering = errors.New("model returned an empty rendering")

// RenderingSystemPrompt instructs the model to emit a self-contained HTML
// fragment, styled first and generated strictly top to bottom so chunks can
// be displayed as they stream.
const RenderingSystemPrompt = `You are an HTML rendering assistant. Your job is to convert agent conversation events into clean, readable HTML fragments.

IMPORTANT RULES:
1. Generate an HTML FRAGMENT (NOT a complete document - no <!DOCTYPE>, <html>, <head>,
   or <body> tags)
2. The HTML will be inserted into a <div> container on an existing page
3. Start with a COMPLETE <style> tag containing all CSS for your fragment
4. After the <style> tag, use semantic HTML5 elements (article, section, div, etc.) for content
5. Make the HTML responsive and mobile-friendly
6. Use semantic HTML5 elements for structure
7. Display conversations chronologically
8. Show user messages, agent responses, and tool executions clearly
9. Use consistent styling and colors
10. If previous_html is provided, maintain consistent styling
11. Apply any display preferences specified

STREAMING OPTIMIZATION (IMPORTANT):
- Generate content SEQUENTIALLY from top to bottom
- Complete each HTML element BEFORE starting the next one
- Do NOT go back to edit or revise earlier sections
- Output final content immediately (NO placeholders or TODO markers)
- Generate the complete <style> section first, then move to content
- Work linearly through the conversation events in order

OUTPUT ONLY THE HTML FRAGMENT - NO EXPLANATIONS OR MARKDOWN CODE BLOCKS.`

// previousHTMLLimit caps how much prior HTML is replayed to the model for
// styling consistency.
const previousHTMLLimit = 1000

// FormatEventsForModel renders events as the numbered plain-text listing the
// rendering prompt expects.
func FormatEventsForModel(evts []events.Event) string {
	if len(evts) == 0 {
		return "No events in this conversation yet."
	}
	var b strings.Builder
	for i, e := range evts {
		fmt.Fprintf(&b, "Event %d:\n", i+1)
		fmt.Fprintf(&b, "  Type: %s\n", e.Type)
		fmt.Fprintf(&b, "  Time: %s\n", e.Time.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Data: %s\n", compactJSON(e.Data))
		if i < len(evts)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

// buildRenderRequest assembles the user turn sent to the rendering model.
func buildRenderRequest(evts []events.Event, prefs, previousHTML string) string {
	parts := []string{
		"Please render the following conversation events as HTML:",
		"",
		"EVENTS:",
		FormatEventsForModel(evts),
		"",
		"DISPLAY PREFERENCES: " + prefs,
	}
	if previousHTML != "" {
		if len(previousHTML) > previousHTMLLimit {
			previousHTML = previousHTML[:previousHTMLLimit]
		}
		parts = append(parts, "", "PREVIOUS HTML (for consistency):", previousHTML)
	}
	return strings.Join(parts, "\n")
}

// RenderHTML renders events as a sanitised HTML fragment in one blocking
// model call.
func RenderHTML(ctx context.Context, model llm.Client, evts []events.Event, prefs, previousHTML string) (string, error) {
	request := llm.Message{Role: llm.RoleUser, Text: buildRenderRequest(evts, prefs, previousHTML)}

	resp, err := model.Call(ctx, []llm.Message{request}, llm.WithSystemPrompt(RenderingSystemPrompt))
	if err != nil {
		return "", fmt.Errorf("render call: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyRendering
	}
	return SanitizeHTML(ExtractHTML(resp.Text)), nil
}

// RenderHTMLStream streams the raw text deltas of a rendering call. The
// chunks are neither unwrapped nor sanitised; the caller must buffer them
// and run ExtractHTML plus SanitizeHTML on the joined result before display.
//
// The chunk channel closes when the stream ends. The error channel delivers
// at most one error (including ErrEmptyRendering when the model produced no
// text) and also closes; a receive of nil after close means success.
func RenderHTMLStream(ctx context.Context, model llm.Client, evts []events.Event, prefs, previousHTML string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		request := llm.Message{Role: llm.RoleUser, Text: buildRenderRequest(evts, prefs, previousHTML)}
		deltas, err := model.CallStream(ctx, []llm.Message{request}, llm.WithSystemPrompt(RenderingSystemPrompt))
		if err != nil {
			errc <- fmt.Errorf("starting render stream: %w", err)
			return
		}

		var emitted int
		for d := range deltas {
			switch d := d.(type) {
			case *llm.TextDelta:
				if d.Text == "" {
					continue
				}
				select {
				case chunks <- d.Text:
					emitted += len(d.Text)
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			case *llm.ErrorDelta:
				errc <- fmt.Errorf("render stream: %w", d.Err)
				return
			case *llm.DoneDelta:
				// usage is not recorded for renderings
			}
		}
		if emitted == 0 {
			errc <- ErrEmptyRendering
		}
	}()

	return chunks, errc
}

// ExtractHTML unwraps a reply from a markdown code fence when the model,
// despite the prompt, wrapped its output in one. Replies without a closing
// fence are returned unchanged.
func ExtractHTML(raw string) string {
	if i := strings.Index(raw, "```html"); i >= 0 {
		start := i + len("```html")
		if end := strings.Index(raw[start:], "```"); end > 0 {
			return strings.TrimSpace(raw[start : start+end])
		}
	} else if i := strings.Index(raw, "```"); i >= 0 {
		start := i + 3
		if end := strings.Index(raw[start:], "```"); end > 0 {
			return strings.TrimSpace(raw[start : start+end])
		}
	}
	return raw
}

// htmlPolicy is the allowlist applied to every rendering before it reaches a
// browser: structural and text-level elements plus style for the fragment's
// CSS. Scripts, iframes, forms, and event-handler attributes are stripped.
var htmlPolicy = buildHTMLPolicy()

func buildHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"a", "abbr", "acronym", "area", "article", "aside", "b", "bdi",
		"bdo", "blockquote", "br", "caption", "center", "cite", "code",
		"col", "colgroup", "data", "dd", "del", "details", "dfn", "div",
		"dl", "dt", "em", "figcaption", "figure", "footer", "h1", "h2",
		"h3", "h4", "h5", "h6", "header", "hgroup", "hr", "i", "img",
		"ins", "kbd", "li", "main", "map", "mark", "nav", "ol", "p",
		"pre", "q", "rp", "rt", "ruby", "s", "samp", "section", "small",
		"span", "strike", "strong", "style", "sub", "summary", "sup",
		"table", "tbody", "td", "th", "thead", "time", "tr", "tt", "u",
		"ul", "var", "wbr",
	)
	p.AllowAttrs("class", "id").Globally()
	// Style is a raw-text element: without AllowUnsafe the policy drops the
	// CSS text inside the allowed <style> tag. AllowUnsafe also lets the raw
	// text inside script elements through, so script bodies are skipped
	// outright.
	p.AllowUnsafe(true)
	p.SkipElementsContent("script")
	p.AllowStandardURLs()
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowAttrs("datetime").OnElements("time")
	return p
}

// SanitizeHTML strips everything outside the rendering allowlist.
func SanitizeHTML(html string) string {
	return htmlPolicy.Sanitize(html)
}
