// Package wizard implements the interactive service configuration flow.
package wizard

import (
	"context"
	"fmt"
	"io"
	"strings"

	"llmn/internal/enablement"
	"llmn/internal/registry"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// Status glyphs shown next to each service.
const (
	GlyphEnabled          = "🟢"
	GlyphDisabled         = "⚪"
	GlyphDisabledRequired = "🔴"
	GlyphAuto             = "🔵"
	GlyphAutoRequired     = "🟡"
)

const (
	choiceContinue = "__continue"
	choiceBack     = "__back"
	choiceFinish   = "__finish"
)

// Wizard walks the user through the service groups, apps first, and lets
// them enable, disable or auto-enable each service.
type Wizard struct {
	reg     *registry.Registry
	prompt  services.Prompter
	persist func() error
	out     io.Writer
}

// New creates a wizard. persist is called after every change.
func New(reg *registry.Registry, prompt services.Prompter, persist func() error, out io.Writer) *Wizard {
	return &Wizard{reg: reg, prompt: prompt, persist: persist, out: out}
}

// Glyph returns the status glyph of s. Required means an enabled service
// depends on it.
func (w *Wizard) Glyph(s *services.Service) string {
	required := len(w.reg.RequiredBy(s.ID())) > 0
	switch s.Mode() {
	case enablement.ModeOn:
		return GlyphEnabled
	case enablement.ModeAuto:
		if required {
			return GlyphAutoRequired
		}
		return GlyphAuto
	default:
		if required {
			return GlyphDisabledRequired
		}
		return GlyphDisabled
	}
}

// Run executes the flow until the user finishes the last group.
func (w *Wizard) Run(ctx context.Context) error {
	groups := w.reg.Groups(registry.ConfigureOrder)
	for i := 0; i < len(groups); {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := w.runGroup(ctx, groups[i], i > 0, i == len(groups)-1)
		if err != nil {
			return err
		}
		if next {
			i++
		} else {
			i--
		}
	}

	fmt.Fprintln(w.out, "\nServices that will start:")
	for _, s := range w.reg.EnabledServices() {
		fmt.Fprintf(w.out, "  %s %s\n", w.Glyph(s), s.Name())
	}
	return nil
}

// runGroup loops on one group until the user moves on. It reports whether to
// go forward.
func (w *Wizard) runGroup(ctx context.Context, group registry.Group, canGoBack, last bool) (bool, error) {
	for {
		options := make([]services.Option, 0, len(group.Services)+2)
		for _, s := range group.Services {
			options = append(options, services.Option{
				Label: fmt.Sprintf("%s %s (%s)", w.Glyph(s), s.Name(), s.Mode()),
				Value: s.ID(),
			})
		}
		forward := services.Option{Label: "Continue", Value: choiceContinue}
		if last {
			forward = services.Option{Label: "Finish", Value: choiceFinish}
		}
		options = append(options, forward)
		if canGoBack {
			options = append(options, services.Option{Label: "Back", Value: choiceBack})
		}

		choice, err := w.prompt.Select(fmt.Sprintf("Configure %s services", titleCase(group.Name)), options, forward.Value)
		if err != nil {
			return false, errors.Wrap(err, "service selection")
		}
		switch choice {
		case choiceContinue, choiceFinish:
			return true, nil
		case choiceBack:
			return false, nil
		}

		s := w.reg.GetServiceByID(choice)
		if s == nil {
			return false, errors.Newf("unknown service %q", choice)
		}
		if err := w.configureService(ctx, s); err != nil {
			return false, err
		}
	}
}

func (w *Wizard) configureService(ctx context.Context, s *services.Service) error {
	title := s.Name()
	if req := w.reg.RequiredBy(s.ID()); len(req) > 0 {
		names := make([]string, 0, len(req))
		for _, r := range req {
			names = append(names, r.Name())
		}
		title += " (required by " + strings.Join(names, ", ") + ")"
	}

	action, err := w.prompt.Select(title, []services.Option{
		{Label: "Enable", Value: string(enablement.ModeOn)},
		{Label: "Disable", Value: string(enablement.ModeOff)},
		{Label: "Auto (enabled when another service needs it)", Value: string(enablement.ModeAuto)},
		{Label: "Back", Value: choiceBack},
	}, string(s.Mode()))
	if err != nil {
		return errors.Wrap(err, "action selection")
	}
	if action == choiceBack {
		return nil
	}

	mode, err := enablement.ParseMode(action)
	if err != nil {
		return err
	}
	if err := w.reg.SetMode(s.ID(), mode); err != nil {
		return err
	}
	if err := w.persist(); err != nil {
		return errors.Wrap(err, "failed to save configuration")
	}
	logging.Debug("Wizard", "Service %s set to %s", s.ID(), mode)

	res := s.Configure(ctx, services.ConfigureOptions{Prompter: w.prompt})
	for _, m := range res.Messages {
		if m.Level != services.LevelDebug {
			fmt.Fprintln(w.out, m.Text)
		}
	}
	if !res.Success {
		return res.Err
	}
	return w.persist()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
