package wizard

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// IdeaSpec holds the fields collected by the idea wizard.
type IdeaSpec struct {
	// Name labels the run directory. Empty means "idea".
	Name string
	Idea string
}

// RunIdeaWizard runs an interactive huh form asking for a product idea.
func RunIdeaWizard(in io.Reader, out io.Writer) (*IdeaSpec, error) {
	var name, idea string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Product idea").
				Description("Describe the application you want scaffolded").
				Placeholder("A CLI that tracks reading lists...").
				Value(&idea).
				Validate(ValidateIdea),
			huh.NewInput().
				Title("Run name").
				Description("Optional label for the output directory").
				Placeholder("idea").
				Value(&name),
		),
	).
		WithInput(in).
		WithOutput(out)

	// Use accessible mode for non-TTY input (e.g., tests, piped input).
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("idea prompt failed: %w", err)
	}

	return &IdeaSpec{
		Name: strings.TrimSpace(name),
		Idea: strings.TrimSpace(idea),
	}, nil
}

// ValidateIdea rejects blank ideas.
func ValidateIdea(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("idea is required")
	}
	return nil
}

// IsInteractive reports whether r is a terminal.
func IsInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
