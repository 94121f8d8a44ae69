package approval

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// User actions recorded in Result.
const (
	ActionApprove            = "approve_once"
	ActionDeny               = "deny"
	ActionAutoApprove        = "auto_approve"
	ActionNonInteractiveDeny = "auto_deny_non_interactive"
	ActionInputError         = "error_reading_input"
)

// ErrNotInteractive is returned by ReadSecret when stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

type Result struct {
	Approved   bool
	UserAction string
}

// Prompt describes a Graph call that changes data.
type Prompt struct {
	Method              string
	URL                 string
	Body                string
	RequiredPermissions []string
}

// Prompter asks the person at the terminal. The zero value is not usable;
// use New or Terminal.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive reports whether In is a terminal.
	Interactive func() bool
	// ReadPassword reads one line from In without echo.
	ReadPassword func() ([]byte, error)
}

// Terminal returns a Prompter on stdin/stderr.
func Terminal() *Prompter {
	fd := int(os.Stdin.Fd())
	return &Prompter{
		In:           os.Stdin,
		Out:          os.Stderr,
		Interactive:  func() bool { return term.IsTerminal(fd) },
		ReadPassword: func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

// NeedsApproval reports whether method changes data.
func NeedsApproval(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "":
		return false
	default:
		return true
	}
}

// Ask shows p and waits for a decision. Without a terminal the answer is
// always deny.
func (pr *Prompter) Ask(p Prompt) Result {
	if pr.Interactive == nil || !pr.Interactive() {
		return Result{
			Approved:   false,
			UserAction: ActionNonInteractiveDeny,
		}
	}

	out := pr.Out
	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintln(out, "APPROVAL REQUIRED: this call changes data in Microsoft 365")
	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintf(out, "Request: %s %s\n", p.Method, p.URL)
	if p.Body != "" {
		_, _ = fmt.Fprintf(out, "Body:    %s\n", p.Body)
	}
	if len(p.RequiredPermissions) > 0 {
		_, _ = fmt.Fprintf(out, "Needs:   %s\n", strings.Join(p.RequiredPermissions, ", "))
	}
	_, _ = fmt.Fprintln(out, "")

	reader := bufio.NewReader(pr.In)
	for {
		_, _ = fmt.Fprint(out, "Send this request? [y/n]: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return Result{
				Approved:   false,
				UserAction: ActionInputError,
			}
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "a", "approve", "yes", "y":
			return Result{
				Approved:   true,
				UserAction: ActionApprove,
			}
		case "d", "deny", "no", "n":
			return Result{
				Approved:   false,
				UserAction: ActionDeny,
			}
		default:
			if err != nil {
				return Result{Approved: false, UserAction: ActionInputError}
			}
			_, _ = fmt.Fprintln(out, "Invalid input. Please enter 'y' to send or 'n' to cancel.")
		}
	}
}

// ReadSecret prompts for a value without echoing it.
func (pr *Prompter) ReadSecret(label string) (string, error) {
	if pr.Interactive == nil || !pr.Interactive() || pr.ReadPassword == nil {
		return "", ErrNotInteractive
	}
	_, _ = fmt.Fprintf(pr.Out, "%s: ", label)
	secret, err := pr.ReadPassword()
	_, _ = fmt.Fprintln(pr.Out, "")
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(secret)), nil
}
