// Package shell is an interactive terminal front end for the upload and
// query page.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/darianmavgo/claridad/page"
)

const (
	prompt     = "claridad> "
	contPrompt = "     ...> "
)

// Options configures a Shell.
type Options struct {
	PageSize            int
	PreserveFailedQuery bool
	HistoryFile         string
	Logger              *slog.Logger
}

// Shell drives a page from typed commands and renders results as text.
type Shell struct {
	page *page.Page
	out  io.Writer
	view page.View
	opts Options
	open func(name string) (io.ReadCloser, error)
}

// New returns a shell sending requests to api and writing to out.
func New(api page.API, out io.Writer, opts Options) *Shell {
	s := &Shell{
		out:  out,
		opts: opts,
		view: page.View{PageSize: opts.PageSize},
		open: func(name string) (io.ReadCloser, error) { return os.Open(name) },
	}
	s.page = page.New(api, page.AlerterFunc(func(msg string) {
		_, _ = fmt.Fprintln(out, msg)
	}), page.Options{
		PreserveFailedQuery: opts.PreserveFailedQuery,
		Logger:              opts.Logger,
	})
	return s
}

// Run reads commands until EOF or .quit.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     s.opts.HistoryFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintln(s.out, "claridad shell. Type .help for commands, .quit to exit")

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(prompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := s.Exec(ctx, line); quit {
				return nil
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			rl.SetPrompt(contPrompt)
			continue
		}
		rl.SetPrompt(prompt)
		s.Exec(ctx, buf.String())
		buf.Reset()
	}
}

// Exec runs one complete input: a dot-command or a query. It reports whether
// the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ".") {
		s.page.SetQuery(line)
		if err := s.page.SubmitQuery(ctx); err == nil {
			s.view.Page = 1
			s.render()
		}
		return false
	}

	parts := strings.Fields(line)
	switch cmd := strings.ToLower(parts[0]); cmd {
	case ".quit", ".exit":
		return true

	case ".help":
		printHelp(s.out)

	case ".upload":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(s.out, "Usage: .upload <file.csv>")
			return false
		}
		name := strings.Join(parts[1:], " ")
		f, err := s.open(name)
		if err != nil {
			_, _ = fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		s.page.SelectFile(filepath.Base(name), f)
		_ = s.page.SubmitUpload(ctx)
		// a rejected selection is not kept between commands
		s.page.SelectFiles(nil)

	case ".sort":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(s.out, "Usage: .sort <column> [asc|desc]")
			return false
		}
		s.view.SortBy = parts[1]
		s.view.Desc = len(parts) > 2 && strings.EqualFold(parts[2], "desc")
		s.view.Page = 1
		s.render()

	case ".page":
		n, err := strconv.Atoi(strings.Join(parts[1:], ""))
		if err != nil {
			_, _ = fmt.Fprintln(s.out, "Usage: .page <n>")
			return false
		}
		s.view.Page = n
		s.render()

	case ".next":
		s.view.Page = max(s.view.Page, 1) + 1
		s.render()

	case ".prev":
		s.view.Page = max(s.view.Page-1, 1)
		s.render()

	case ".show":
		s.render()

	default:
		_, _ = fmt.Fprintf(s.out, "Unknown command: %s (type .help for commands)\n", cmd)
	}
	return false
}

func (s *Shell) render() {
	t := page.BuildTable(s.page.Result(), s.view)
	if t == nil {
		_, _ = fmt.Fprintln(s.out, "(no result yet)")
		return
	}
	s.view.Page = t.Page
	if err := page.RenderText(s.out, t); err != nil {
		_, _ = fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func printHelp(w io.Writer) {
	help := `
Commands:
  .upload <file>         Upload a CSV file
  .sort <col> [asc|desc] Sort the last result
  .page <n>              Show page n of the last result
  .next / .prev          Move between pages
  .show                  Show the last result again
  .help                  Show this help message
  .quit / .exit          Exit the shell

SQL statements must end with a semicolon (;) and may span lines.
`
	_, _ = fmt.Fprintln(w, help)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".upload", readline.PcItemDynamic(csvFiles)),
		readline.PcItem(".sort"),
		readline.PcItem(".page"),
		readline.PcItem(".next"),
		readline.PcItem(".prev"),
		readline.PcItem(".show"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

// csvFiles lists CSV files in the working directory for completion.
func csvFiles(string) []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && page.IsCSVName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names
}
