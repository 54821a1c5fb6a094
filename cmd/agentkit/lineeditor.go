package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

var (
	errInputInterrupt = errors.New("input interrupted")
	errInputEOF       = errors.New("input eof")
)

// lineEditor abstracts interactive input so the console can run against
// a real terminal, a plain pipe, or a scripted test double.
type lineEditor interface {
	ReadLine(prompt string) (string, error)
	Output() io.Writer
	Close() error
}

// newLineEditor prefers readline on a real terminal and falls back to
// buffered stdio otherwise.
func newLineEditor(commands []string) lineEditor {
	if isTTY(os.Stdin) && isTTY(os.Stdout) {
		if editor, err := newReadlineEditor(commands); err == nil {
			return editor
		}
	}
	return &stdioEditor{reader: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

type readlineEditor struct {
	rl *readline.Instance
}

func newReadlineEditor(commands []string) (*readlineEditor, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, cmd := range commands {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			items = append(items, readline.PcItem("/"+cmd))
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		AutoComplete:      readline.NewPrefixCompleter(items...),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &readlineEditor{rl: rl}, nil
}

func (r *readlineEditor) ReadLine(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	switch {
	case err == nil:
		return strings.TrimSpace(line), nil
	case errors.Is(err, readline.ErrInterrupt):
		return "", errInputInterrupt
	case errors.Is(err, io.EOF):
		return "", errInputEOF
	default:
		return "", err
	}
}

func (r *readlineEditor) Output() io.Writer { return r.rl.Stdout() }

func (r *readlineEditor) Close() error { return r.rl.Close() }

type stdioEditor struct {
	reader *bufio.Reader
	out    io.Writer
}

func (s *stdioEditor) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errInputEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *stdioEditor) Output() io.Writer { return s.out }

func (s *stdioEditor) Close() error { return nil }
