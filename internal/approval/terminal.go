package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Terminal prompts on a terminal for each termination request.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a Terminal approver reading answers from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

type line struct {
	text string
	err  error
}

// RequestTermination prints the request and reads y/n plus an optional reason.
func (t *Terminal) RequestTermination(ctx context.Context, req TerminationRequest) (Response, error) {
	header := color.New(color.FgCyan, color.Bold)
	if req.Reset {
		header = color.New(color.FgYellow, color.Bold)
	}
	header.Fprintf(t.out, "\nTermination request: %s -> %s\n", req.From, req.To)
	if req.Reason != "" {
		fmt.Fprintf(t.out, "  %s\n", req.Reason)
	}

	answer, err := t.ask(ctx, "Approve? [y/N] ")
	if err != nil {
		return Response{}, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "y" || answer == "yes" {
		color.New(color.FgGreen).Fprintln(t.out, "Approved.")
		return Response{RequestID: req.ID, Approved: true}, nil
	}

	reason, err := t.ask(ctx, "Reason for the coordinator: ")
	if err != nil {
		return Response{}, err
	}
	color.New(color.FgRed).Fprintln(t.out, "Rejected.")
	return Response{RequestID: req.ID, Reason: strings.TrimSpace(reason)}, nil
}

func (t *Terminal) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	ch := make(chan line, 1)
	go func() {
		text, err := t.in.ReadString('\n')
		if err == io.EOF && text != "" {
			err = nil
		}
		ch <- line{text: text, err: err}
	}()
	select {
	case l := <-ch:
		if l.err != nil {
			return "", fmt.Errorf("read approval: %w", l.err)
		}
		return l.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
