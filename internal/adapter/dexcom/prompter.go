package dexcom

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"dexcom-ingest/internal/domain"
)

// Prompter obtains the redirect URL from the account holder.
type Prompter interface {
	Prompt(ctx context.Context, authURL string) (string, error)
}

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context, authURL string) (string, error)

func (f PromptFunc) Prompt(ctx context.Context, authURL string) (string, error) {
	return f(ctx, authURL)
}

// TerminalPrompter prints the login URL and reads one line from In. It
// refuses to run without a terminal so an unattended process fails
// instead of waiting forever for input.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

func (p TerminalPrompter) Prompt(ctx context.Context, authURL string) (string, error) {
	if !term.IsTerminal(int(p.In.Fd())) {
		return "", fmt.Errorf("%w: no stored credential and stdin is not a terminal; run `dexcom-ingest login` first", domain.ErrAuth)
	}
	fmt.Fprintf(p.Out, "Please go to the following URL and log into your Dexcom account. "+
		"After logging in you will be redirected to your redirect URI. "+
		"Paste the full URL of that page here. The code expires after one minute.\n\n%s\n\nPaste here: ", authURL)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", fmt.Errorf("%w: reading pasted URL: %v", domain.ErrAuth, r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}
