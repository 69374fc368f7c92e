package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// terminalPrompter asks on the terminal whether to reconnect. Input lines are
// read by one goroutine so an unanswered prompt leaves no reader behind.
type terminalPrompter struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, lines: make(chan string)}
}

func (p *terminalPrompter) PromptReconnect(ctx context.Context, message string) bool {
	p.once.Do(func() { go p.read() })
	fmt.Fprintf(p.out, "%s [y/N] ", message)

	select {
	case line, ok := <-p.lines:
		if !ok {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false
	}
}

func (p *terminalPrompter) read() {
	defer close(p.lines)
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}
