// Package grounding renders search citations attached to a Gemini response.
package grounding

import (
	"fmt"
	"strings"

	"aksara/backend/internal/gemini"
)

const header = "\n\n**Sumber:**\n"

type Citation struct {
	Title string
	URI   string
}

// Citations returns the usable web citations in upstream order: each must carry
// both a URI and a title, and repeated URIs are dropped.
func Citations(resp gemini.GenerateResponse) []Citation {
	meta := resp.Grounding()
	if meta == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(meta.GroundingChunks))
	out := make([]Citation, 0, len(meta.GroundingChunks))
	for _, chunk := range meta.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		uri := strings.TrimSpace(chunk.Web.URI)
		title := strings.TrimSpace(chunk.Web.Title)
		if uri == "" || title == "" {
			continue
		}
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, Citation{Title: title, URI: uri})
	}
	return out
}

// Sources renders the citations of resp as a numbered markdown list suffix.
// ok is false when there is nothing to append.
func Sources(resp gemini.GenerateResponse) (suffix string, ok bool) {
	citations := Citations(resp)
	if len(citations) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(header)
	for i, citation := range citations {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, escapeTitle(citation.Title), citation.URI)
	}
	return b.String(), true
}

func escapeTitle(title string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(title)
}
