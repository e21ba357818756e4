// Package cli provides line-oriented terminal prompts for the init wizards.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// Prompter asks questions on Out and reads answers from In, one per line.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

// DefaultPrompter returns a Prompter on stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) line() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

// Printf writes to Out.
func (p *Prompter) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

// Section prints a heading followed by a blank line before the next prompt.
func (p *Prompter) Section(title string) {
	p.Printf("\n%s\n", title)
}

// Ask reads one line. An empty answer yields defaultVal.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		p.Printf("%s [%s]: ", question, defaultVal)
	} else {
		p.Printf("%s: ", question)
	}
	if ans := p.line(); ans != "" {
		return ans
	}
	return defaultVal
}

// AskSecret reads a line without echo when In is a terminal. An empty answer
// keeps current, which is never printed.
func (p *Prompter) AskSecret(question, current string) string {
	if current != "" {
		p.Printf("%s [keep current]: ", question)
	} else {
		p.Printf("%s: ", question)
	}

	var ans string
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		p.Printf("\n")
		if err == nil {
			ans = strings.TrimSpace(string(b))
		}
	} else {
		ans = p.line()
	}
	if ans == "" {
		return current
	}
	return ans
}

// AskInt reads an integer no smaller than minVal.
func (p *Prompter) AskInt(question string, defaultVal, minVal int) int {
	for {
		n, err := strconv.Atoi(p.Ask(question, strconv.Itoa(defaultVal)))
		if err == nil && n >= minVal {
			return n
		}
		p.Printf("  Please enter a whole number >= %d.\n", minVal)
	}
}

// AskDuration reads a Go duration such as "45s" or "2m".
func (p *Prompter) AskDuration(question string, defaultVal time.Duration) time.Duration {
	for {
		d, err := time.ParseDuration(p.Ask(question, defaultVal.String()))
		if err == nil && d > 0 {
			return d
		}
		p.Printf("  Please enter a positive duration like 30s or 2m.\n")
	}
}

// AskURL reads an absolute URL whose scheme is one of schemes. An empty
// answer with an empty default is accepted and returns "".
func (p *Prompter) AskURL(question, defaultVal string, schemes ...string) string {
	for {
		ans := p.Ask(question, defaultVal)
		if ans == "" {
			return ""
		}
		u, err := url.Parse(ans)
		if err == nil && u.Host != "" && (len(schemes) == 0 || slices.Contains(schemes, u.Scheme)) {
			return ans
		}
		p.Printf("  Please enter a URL starting with %s://.\n", strings.Join(schemes, ":// or "))
	}
}

// Choose lists options and returns the one picked by number.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	p.Printf("%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		p.Printf("%s%d) %s\n", marker, i+1, opt)
	}
	for {
		n, err := strconv.Atoi(p.Ask("Choice", strconv.Itoa(defaultIdx+1)))
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		p.Printf("  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := strings.ToLower(p.Ask(fmt.Sprintf("%s [%s]", question, hint), ""))
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(ans, "y")
}
