package cli

import (
	"strconv"
	"strings"
)

type cliOptions struct {
	uid    int64
	event  string
	screen int64
	ticket int64
	buyers []int64
	name   string
	tel    string
	code   string
	count  int
	filter string
	levels []string
	export bool
	clear  bool
}

func parseArgs(args []string) (cliOptions, []string) {
	opts := cliOptions{count: 1}
	positional := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--uid="):
			opts.uid = parseInt64(strings.TrimPrefix(arg, "--uid="))
		case strings.HasPrefix(arg, "--event="):
			opts.event = strings.TrimSpace(strings.TrimPrefix(arg, "--event="))
		case strings.HasPrefix(arg, "--screen="):
			opts.screen = parseInt64(strings.TrimPrefix(arg, "--screen="))
		case strings.HasPrefix(arg, "--ticket="):
			opts.ticket = parseInt64(strings.TrimPrefix(arg, "--ticket="))
		case strings.HasPrefix(arg, "--buyers="):
			opts.buyers = parseInt64CSV(strings.TrimPrefix(arg, "--buyers="))
		case strings.HasPrefix(arg, "--name="):
			opts.name = strings.TrimSpace(strings.TrimPrefix(arg, "--name="))
		case strings.HasPrefix(arg, "--tel="):
			opts.tel = strings.TrimSpace(strings.TrimPrefix(arg, "--tel="))
		case strings.HasPrefix(arg, "--code="):
			opts.code = strings.TrimSpace(strings.TrimPrefix(arg, "--code="))
		case strings.HasPrefix(arg, "--count="):
			opts.count = int(parseInt64(strings.TrimPrefix(arg, "--count=")))
		case strings.HasPrefix(arg, "--filter="):
			opts.filter = strings.TrimPrefix(arg, "--filter=")
		case strings.HasPrefix(arg, "--levels="):
			opts.levels = splitCSV(strings.TrimPrefix(arg, "--levels="))
		case arg == "--export":
			opts.export = true
		case arg == "--clear":
			opts.clear = true
		default:
			positional = append(positional, arg)
		}
	}
	return opts, positional
}

func parseInt64(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseInt64CSV(raw string) []int64 {
	var out []int64
	for _, part := range splitCSV(raw) {
		if n := parseInt64(part); n != 0 {
			out = append(out, n)
		}
	}
	return out
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
