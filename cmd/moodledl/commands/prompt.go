package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter asks the user for whatever the config left out.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal passwords are read from without echo, -1 if the
	// input isn't a terminal.
	fd int
}

func newPrompter(in io.Reader, out io.Writer) prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return prompter{
		in:  bufio.NewReader(in),
		out: out,
		fd:  fd,
	}
}

func (p prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimSpace(line), err
}

func (p prompter) Line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	return p.readLine()
}

func (p prompter) Password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.fd < 0 {
		return p.readLine()
	}
	password, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// Urls reads one url per line until an empty line or the end of input.
func (p prompter) Urls(label string) ([]string, error) {
	fmt.Fprintf(p.out, "%s (one per line, empty line to finish):\n", label)
	var urls []string
	for {
		line, err := p.readLine()
		if err == io.EOF {
			return urls, nil
		}
		if err != nil {
			return nil, err
		}
		if line == "" {
			return urls, nil
		}
		urls = append(urls, line)
	}
}
