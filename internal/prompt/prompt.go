// Package prompt asks the user for confirmation and single-line input.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pbaille/akten/internal/domain"
)

// Prompter is the user-facing dialog the creation and delete flows depend on.
// Both calls return domain.ErrCancelled when the user backs out.
type Prompter interface {
	Confirm(question string) error
	Input(label, suggestion string) (string, error)
}

// Terminal prompts on a line-oriented terminal.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// Confirm asks a yes/no question. Anything but "y" or "yes" cancels.
func (t *Terminal) Confirm(question string) error {
	fmt.Fprintf(t.out, "%s [y/N] ", question)
	line, err := t.readLine()
	if err != nil {
		return err
	}
	switch strings.ToLower(line) {
	case "y", "yes", "j", "ja":
		return nil
	}
	return domain.ErrCancelled
}

// Input asks for a line of text. An empty answer takes the suggestion;
// with no suggestion it cancels.
func (t *Terminal) Input(label, suggestion string) (string, error) {
	if suggestion != "" {
		fmt.Fprintf(t.out, "%s [%s]: ", label, suggestion)
	} else {
		fmt.Fprintf(t.out, "%s: ", label)
	}
	line, err := t.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		line = suggestion
	}
	if line == "" {
		return "", domain.ErrCancelled
	}
	return line, nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return "", domain.ErrCancelled
		}
	} else if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Yes confirms everything and accepts every suggestion, for non-interactive use.
type Yes struct{}

func (Yes) Confirm(string) error { return nil }

func (Yes) Input(_, suggestion string) (string, error) {
	if suggestion == "" {
		return "", domain.ErrCancelled
	}
	return suggestion, nil
}
