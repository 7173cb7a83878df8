package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gobwas/glob"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/tools"
)

const (
	defaultReadLines = 2000
	maxFindResults   = 500
)

// Directories find_files never descends into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

type readFileTool struct{}

func (readFileTool) Definition() mcp.Tool {
	return mcp.NewTool(ReadFile,
		mcp.WithDescription("Read a text file from the working directory. Returns numbered lines."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the working directory")),
		mcp.WithNumber("offset", mcp.Description("First line to return, 1-based (default 1)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of lines to return (default 2000)")),
	)
}

func (readFileTool) Permission() permission.Permission { return permission.Read }

func (readFileTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.FS == nil {
		return nil, errNoFS
	}
	name := stringArg(args, "path")

	data, err := tctx.FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return "", nil
	}
	if mime := mimetype.Detect(data); !isText(mime) {
		return nil, fmt.Errorf("%s is a binary file (%s)", name, mime.String())
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", defaultReadLines)
	if limit < 1 {
		limit = defaultReadLines
	}
	if offset > len(lines) {
		return nil, fmt.Errorf("offset %d is past the end of %s (%d lines)", offset, name, len(lines))
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines, continue with offset %d)\n", len(lines)-end, end+1)
	}
	return b.String(), nil
}

// isText walks the detected type's ancestry looking for text/plain, which
// covers source code, JSON, XML and the other text formats mimetype knows.
func isText(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

type listDirTool struct{}

// DirEntry is one list_dir result.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (listDirTool) Definition() mcp.Tool {
	return mcp.NewTool(ListDir,
		mcp.WithDescription("List the entries of a directory."),
		mcp.WithString("path", mcp.Description("Directory path, relative to the working directory (default \".\")")),
	)
}

func (listDirTool) Permission() permission.Permission { return permission.Read }

func (listDirTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.FS == nil {
		return nil, errNoFS
	}
	dir := stringArg(args, "path")
	if dir == "" {
		dir = "."
	}

	entries, err := tctx.FS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		item := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	return out, nil
}

type findFilesTool struct{}

// FindResult is the find_files output.
type FindResult struct {
	Matches   []string `json:"matches"`
	Truncated bool     `json:"truncated,omitempty"`
}

func (findFilesTool) Definition() mcp.Tool {
	return mcp.NewTool(FindFiles,
		mcp.WithDescription("Find files by glob pattern. Patterns without a slash match file names; patterns with one match paths ('**' crosses directories)."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern, e.g. *.go or internal/**/*_test.go")),
		mcp.WithString("path", mcp.Description("Directory to search (default \".\")")),
	)
}

func (findFilesTool) Permission() permission.Permission { return permission.Read }

func (findFilesTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.FS == nil {
		return nil, errNoFS
	}
	pattern := stringArg(args, "pattern")
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	byPath := strings.Contains(pattern, "/")

	root := stringArg(args, "path")
	if root == "" {
		root = "."
	}

	result := FindResult{Matches: []string{}}
	err = tctx.FS.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}

		subject := path.Base(p)
		if byPath {
			subject = p
		}
		if !g.Match(subject) {
			return nil
		}
		if len(result.Matches) == maxFindResults {
			result.Truncated = true
			return fs.SkipAll
		}
		result.Matches = append(result.Matches, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", root, err)
	}
	return result, nil
}

type writeFileTool struct{}

func (writeFileTool) Definition() mcp.Tool {
	return mcp.NewTool(WriteFile,
		mcp.WithDescription("Create or overwrite a file. Parent directories are created as needed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the working directory")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full file content")),
	)
}

func (writeFileTool) Permission() permission.Permission { return permission.Write }

func (writeFileTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.FS == nil {
		return nil, errNoFS
	}
	name := stringArg(args, "path")
	content := stringArg(args, "content")

	abs, err := tctx.FS.Abs(name)
	if err != nil {
		return nil, err
	}
	err = tctx.Locks.With(abs, func() error {
		return tctx.FS.WriteFile(name, []byte(content))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), name), nil
}

type editFileTool struct{}

func (editFileTool) Definition() mcp.Tool {
	return mcp.NewTool(EditFile,
		mcp.WithDescription("Replace text in an existing file. old_string must match exactly and, unless replace_all is set, exactly once."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the working directory")),
		mcp.WithString("old_string", mcp.Required(), mcp.Description("Text to replace")),
		mcp.WithString("new_string", mcp.Required(), mcp.Description("Replacement text")),
		mcp.WithBoolean("replace_all", mcp.Description("Replace every occurrence")),
	)
}

func (editFileTool) Permission() permission.Permission { return permission.Write }

func (editFileTool) Execute(ctx context.Context, args map[string]any, tctx tools.Context) (any, error) {
	if tctx.FS == nil {
		return nil, errNoFS
	}
	name := stringArg(args, "path")
	oldString := stringArg(args, "old_string")
	newString := stringArg(args, "new_string")
	replaceAll := boolArg(args, "replace_all")

	if oldString == "" {
		return nil, fmt.Errorf("old_string must not be empty")
	}
	if oldString == newString {
		return nil, fmt.Errorf("old_string and new_string are identical")
	}

	abs, err := tctx.FS.Abs(name)
	if err != nil {
		return nil, err
	}

	var replaced int
	err = tctx.Locks.With(abs, func() error {
		data, err := tctx.FS.ReadFile(name)
		if err != nil {
			return err
		}
		content := string(data)

		count := strings.Count(content, oldString)
		switch {
		case count == 0:
			return fmt.Errorf("old_string not found")
		case count > 1 && !replaceAll:
			return fmt.Errorf("old_string matches %d times; add context or set replace_all", count)
		}

		if replaceAll {
			content = strings.ReplaceAll(content, oldString, newString)
			replaced = count
		} else {
			content = strings.Replace(content, oldString, newString, 1)
			replaced = 1
		}
		return tctx.FS.WriteFile(name, []byte(content))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to edit %s: %w", name, err)
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, name), nil
}
