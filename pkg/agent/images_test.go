package agent

import (
	"testing"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/stretchr/testify/assert"
)

func screenshotTurn(id string) session.Turn {
	return session.Turn{
		Role: session.RoleUser,
		Content: []session.ContentBlock{
			toolResultBlock(id, ToolResult{Output: "shot " + id, Base64Image: "aW1n"}),
		},
	}
}

func countImages(history []session.Turn) int {
	n := 0
	for _, turn := range history {
		for _, b := range turn.Content {
			for _, inner := range b.Content {
				if inner.Type == session.BlockImage {
					n++
				}
			}
		}
	}
	return n
}

func TestTrimImages_KeepsMostRecent(t *testing.T) {
	history := []session.Turn{
		screenshotTurn("1"),
		screenshotTurn("2"),
		screenshotTurn("3"),
		screenshotTurn("4"),
	}

	trimmed := trimImages(history, 2, 1)

	assert.Equal(t, 2, countImages(trimmed))
	assert.Len(t, trimmed[0].Content[0].Content, 1, "oldest result keeps its text")
	assert.Len(t, trimmed[3].Content[0].Content, 2, "newest result keeps its image")
	assert.Equal(t, 4, countImages(history), "input must not be modified")
}

func TestTrimImages_Chunked(t *testing.T) {
	history := []session.Turn{
		screenshotTurn("1"),
		screenshotTurn("2"),
		screenshotTurn("3"),
		screenshotTurn("4"),
		screenshotTurn("5"),
	}

	// 5 images, keep 2: 3 removable, rounded down to a multiple of 2
	assert.Equal(t, 3, countImages(trimImages(history, 2, 2)))
}

func TestTrimImages_Bounds(t *testing.T) {
	history := []session.Turn{screenshotTurn("1")}

	assert.Equal(t, 1, countImages(trimImages(history, 3, 1)))
	assert.Equal(t, 1, countImages(trimImages(history, -1, 1)))
	assert.Equal(t, 0, countImages(trimImages(history, 0, 1)))
}
