package agent

import "github.com/harun/agentrelay/pkg/session"

// trimImages returns a copy of history in which only the keep most recent
// images nested in tool results remain. Removal happens in multiples of
// chunk so the request prefix changes rarely. A negative keep disables
// trimming. The input is not modified.
func trimImages(history []session.Turn, keep, chunk int) []session.Turn {
	if keep < 0 {
		return history
	}
	if chunk <= 0 {
		chunk = 1
	}

	total := 0
	for _, turn := range history {
		for _, b := range turn.Content {
			if b.Type != session.BlockToolResult {
				continue
			}
			for _, inner := range b.Content {
				if inner.Type == session.BlockImage {
					total++
				}
			}
		}
	}

	remove := total - keep
	remove -= remove % chunk
	if remove <= 0 {
		return history
	}

	out := make([]session.Turn, len(history))
	for i, turn := range history {
		out[i] = turn
		if remove == 0 {
			continue
		}

		var blocks []session.ContentBlock
		for j, b := range turn.Content {
			if b.Type != session.BlockToolResult || remove == 0 {
				continue
			}
			kept := make([]session.ContentBlock, 0, len(b.Content))
			for _, inner := range b.Content {
				if inner.Type == session.BlockImage && remove > 0 {
					remove--
					continue
				}
				kept = append(kept, inner)
			}
			if len(kept) == len(b.Content) {
				continue
			}
			if blocks == nil {
				blocks = make([]session.ContentBlock, len(turn.Content))
				copy(blocks, turn.Content)
			}
			b.Content = kept
			blocks[j] = b
		}
		if blocks != nil {
			out[i] = session.Turn{Role: turn.Role, Content: blocks}
		}
	}
	return out
}
