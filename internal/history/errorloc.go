package history

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Location is one error-site extracted from a task's output, enriched with
// git blame where possible.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`

	Author        string `json:"author,omitempty"`
	Date          string `json:"date,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	CommitSubject string `json:"commit_subject,omitempty"`
	RecentCommits int    `json:"recent_commits,omitempty"`
}

// locationPattern matches one language's file:line[:col] convention; the
// first two submatches are always (file, line), the third optional (col).
type locationPattern struct {
	re *regexp.Regexp
}

var locationPatterns = []locationPattern{
	{regexp.MustCompile(`-->\s+([^\s:]+):(\d+):(\d+)`)},                  // Rust
	{regexp.MustCompile(`File "([^"]+)", line (\d+)`)},                   // Python
	{regexp.MustCompile(`([^\s()]+)\((\d+),(\d+)\):`)},                   // TypeScript
	{regexp.MustCompile(`\(([^()\s]+):(\d+)\)`)},                         // Elixir
	{regexp.MustCompile(`(?m)^([\w./\-]+):(\d+)(?::(\d+))?:\s*.+$`)},     // generic
}

// ExtractLocations scans output for file:line patterns across the rules in
// locationPatterns, filters out locations outside workdir or naming
// nonexistent files, and enriches survivors with git blame in parallel.
func ExtractLocations(ctx context.Context, workdir, output string) ([]Location, error) {
	var candidates []Location
	seen := make(map[string]bool)

	for _, p := range locationPatterns {
		for _, m := range p.re.FindAllStringSubmatch(output, -1) {
			file := m[1]
			line, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			col := 0
			colStr := ""
			if len(m) > 3 && m[3] != "" {
				col, _ = strconv.Atoi(m[3])
				colStr = m[3]
			}
			key := file + ":" + m[2] + ":" + colStr
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, Location{File: file, Line: line, Column: col})
		}
	}

	var filtered []Location
	for _, loc := range candidates {
		abs := loc.File
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workdir, abs)
		}
		rel, err := filepath.Rel(workdir, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		loc.File = rel
		filtered = append(filtered, loc)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range filtered {
		i := i
		g.Go(func() error {
			enrichLocation(gctx, workdir, &filtered[i])
			return nil
		})
	}
	_ = g.Wait() // enrichment is optional; a blame failure leaves the location's git fields empty

	return filtered, nil
}

// enrichLocation fills in blame and recent-commit-count fields; any
// failure (not a git repo, file untracked, git missing) is silently
// tolerated per spec.
func enrichLocation(ctx context.Context, workdir string, loc *Location) {
	blameCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if author, date, sha, subject, ok := gitBlame(blameCtx, workdir, loc.File, loc.Line); ok {
		loc.Author, loc.Date, loc.CommitSHA, loc.CommitSubject = author, date, sha, subject
	}

	logCtx, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	loc.RecentCommits = gitRecentCommitCount(logCtx, workdir, loc.File)
}

func gitBlame(ctx context.Context, workdir, file string, line int) (author, date, sha, subject string, ok bool) {
	lineArg := strconv.Itoa(line) + "," + strconv.Itoa(line)
	cmd := exec.CommandContext(ctx, "git", "blame", "-L", lineArg, "--porcelain", "--", file)
	cmd.Dir = workdir
	out, err := cmd.Output()
	if err != nil {
		return "", "", "", "", false
	}

	lines := strings.Split(string(out), "\n")
	if len(lines) == 0 {
		return "", "", "", "", false
	}
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return "", "", "", "", false
	}
	sha = fields[0]
	for _, l := range lines[1:] {
		switch {
		case strings.HasPrefix(l, "author "):
			author = strings.TrimPrefix(l, "author ")
		case strings.HasPrefix(l, "author-time "):
			if ts, err := strconv.ParseInt(strings.TrimPrefix(l, "author-time "), 10, 64); err == nil {
				date = time.Unix(ts, 0).UTC().Format(time.RFC3339)
			}
		case strings.HasPrefix(l, "summary "):
			subject = strings.TrimPrefix(l, "summary ")
		}
	}
	return author, date, sha, subject, sha != ""
}

func gitRecentCommitCount(ctx context.Context, workdir, file string) int {
	cmd := exec.CommandContext(ctx, "git", "log", "--since=30.days", "--oneline", "--", file)
	cmd.Dir = workdir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	if err := cmd.Run(); err != nil {
		return 0
	}
	if buf.Len() == 0 {
		return 0
	}
	return len(strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"))
}
