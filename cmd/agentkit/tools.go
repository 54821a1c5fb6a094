package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chalkline/agentkit/kernel/tool"
)

const readFileLimit = 256 * 1024

type readFileArgs struct {
	Path string `json:"path" description:"File path to read"`
}

type readFileResult struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

type listDirArgs struct {
	Path string `json:"path,omitempty" description:"Directory path to list, defaults to the working directory"`
}

type listDirResult struct {
	Entries []string `json:"entries"`
}

type timeNowArgs struct{}

type timeNowResult struct {
	Now string `json:"now"`
}

// localTools is the console's default toolbox. Hosts embedding the
// engine bring their own; these keep the CLI usable out of the box.
func localTools() *tool.Set {
	set, err := tool.NewSet(
		tool.MustFunc("read_file", "Read a UTF-8 text file from the local filesystem.",
			func(ctx context.Context, args readFileArgs) (readFileResult, error) {
				if args.Path == "" {
					return readFileResult{}, fmt.Errorf("path is required")
				}
				raw, err := os.ReadFile(args.Path)
				if err != nil {
					return readFileResult{}, err
				}
				if len(raw) > readFileLimit {
					return readFileResult{Content: string(raw[:readFileLimit]), Truncated: true}, nil
				}
				return readFileResult{Content: string(raw)}, nil
			}),
		tool.MustFunc("list_dir", "List entries of a local directory.",
			func(ctx context.Context, args listDirArgs) (listDirResult, error) {
				if args.Path == "" {
					args.Path = "."
				}
				entries, err := os.ReadDir(args.Path)
				if err != nil {
					return listDirResult{}, err
				}
				names := make([]string, 0, len(entries))
				for _, entry := range entries {
					name := entry.Name()
					if entry.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				return listDirResult{Entries: names}, nil
			}),
		tool.MustFunc("time_now", "Current local time in RFC 3339 format.",
			func(ctx context.Context, args timeNowArgs) (timeNowResult, error) {
				return timeNowResult{Now: time.Now().Format(time.RFC3339)}, nil
			}),
	)
	if err != nil {
		panic(err)
	}
	return set
}
