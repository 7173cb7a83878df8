package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/tools"
)

type webFetchTool struct {
	client   *http.Client
	maxBytes int64
}

func (t *webFetchTool) Definition() mcp.Tool {
	return mcp.NewTool(WebFetch,
		mcp.WithDescription("Fetch a web page over HTTP(S). HTML is converted to Markdown."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http or https URL")),
	)
}

func (t *webFetchTool) Permission() permission.Permission { return permission.Web }

func (t *webFetchTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	raw := stringArg(args, "url")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: only absolute http and https URLs are supported", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "taskforge")
	req.Header.Set("Accept", "text/html, text/plain, application/json;q=0.9, */*;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	truncated := int64(len(body)) > t.maxBytes
	if truncated {
		body = body[:t.maxBytes]
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		md, err := htmltomarkdown.ConvertString(text)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s to markdown: %w", u, err)
		}
		text = md
	}
	if truncated {
		text += fmt.Sprintf("\n\n... (response truncated at %d bytes)", t.maxBytes)
	}
	return text, nil
}
