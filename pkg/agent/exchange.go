package agent

import (
	"fmt"
	"net/http"

	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/pkg/session"
)

type middlewareNext = func(*http.Request) (*http.Response, error)

// exchangeMiddleware reports every provider round trip to cb. Both SDKs
// accept this signature as request middleware.
func exchangeMiddleware(provider string, cb Callbacks) func(*http.Request, middlewareNext) (*http.Response, error) {
	return func(req *http.Request, next middlewareNext) (*http.Response, error) {
		resp, err := next(req)

		ex := Exchange{Err: err}
		if resp != nil {
			ex.StatusCode = resp.StatusCode
			if err == nil && resp.StatusCode >= http.StatusBadRequest {
				ex.Err = fmt.Errorf("%s API returned %s", provider, resp.Status)
			}
		}
		observability.RecordAPIExchange(provider, ex.StatusCode)
		cb.exchange(ex)

		return resp, err
	}
}

// toolResultBlock turns a local tool outcome into the tool_result block sent
// back to the model
func toolResultBlock(toolUseID string, r ToolResult) session.ContentBlock {
	block := session.ContentBlock{Type: session.BlockToolResult, ToolUseID: toolUseID}
	switch {
	case r.Error != "":
		block.IsError = true
		block.Content = append(block.Content, session.TextBlock(r.Error))
	case r.Output != "":
		block.Content = append(block.Content, session.TextBlock(r.Output))
	}
	if r.Base64Image != "" {
		block.Content = append(block.Content, session.ContentBlock{
			Type:   session.BlockImage,
			Source: &session.ImageSource{Type: "base64", MediaType: "image/png", Data: r.Base64Image},
		})
	}
	return block
}
