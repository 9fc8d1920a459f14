package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/compass-agent/internal/app/conversation"
	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/config"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

type journeyOptions struct {
	mode      domain.Mode
	intensity domain.Intensity
	lang      bilingual.Language
	userID    domain.UserID
	settings  domain.Settings
}

func newJourneyCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var mode, intensity, lang, user, provider string

	cmd := &cobra.Command{
		Use:   "journey",
		Short: "Run one journey in the terminal",
		Long: `Run one journey against the configured provider, keeping state in memory.

Type an answer, or the number of a suggestion. Commands:
  /report  generate the final report (once eligible)
  /retry   resubmit the last answer after a failure
  /quit    leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := journeyOptions{
				lang:   bilingual.ParseLanguage(lang),
				userID: domain.UserID(user),
			}
			var err error
			if opts.mode, err = domain.ParseMode(mode); err != nil {
				return err
			}
			if opts.intensity, err = domain.ParseIntensity(intensity); err != nil {
				return err
			}
			if provider != "" {
				if opts.settings.Provider, err = domain.ParseProvider(provider); err != nil {
					return err
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runJourney(cmd.Context(), a.conv, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeLifeMeaning), "journey mode, e.g. JUSTICE or free-will")
	cmd.Flags().StringVar(&intensity, "intensity", string(domain.IntensityQuick), "QUICK or DEEP")
	cmd.Flags().StringVar(&lang, "lang", "zh", "display language: zh or en")
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user id recorded on the session")
	cmd.Flags().StringVar(&provider, "provider", "", "generator provider (overrides COMPASS_PROVIDER)")
	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// runJourney drives one session from a line-oriented reader.
func runJourney(ctx context.Context, conv *conversation.Service, in io.Reader, out io.Writer, opts journeyOptions) error {
	started, err := conv.StartJourney(ctx, conversation.StartJourneyInput{
		UserID:    opts.userID,
		Mode:      opts.mode,
		Intensity: opts.intensity,
	})
	if err != nil {
		return err
	}
	sessionID := started.Session.ID
	defer conv.Reset(context.WithoutCancel(ctx), sessionID)

	p := printer{w: out, lang: opts.lang}
	suggestions := started.Opening.Suggestions
	p.message(started.Opening)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		var (
			turn *conversation.TurnOutput
			err  error
		)
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/report":
			res, err := conv.Finalize(ctx, conversation.FinalizeInput{SessionID: sessionID, Settings: opts.settings})
			if err != nil {
				p.failure(err)
				continue
			}
			p.report(res.Result)
			return nil
		case line == "/retry":
			turn, err = conv.RetryTurn(ctx, conversation.RetryTurnInput{SessionID: sessionID, Settings: opts.settings})
		default:
			turn, err = conv.SendTurn(ctx, conversation.SendTurnInput{
				SessionID: sessionID,
				Text:      pickSuggestion(line, suggestions, opts.lang),
				Settings:  opts.settings,
			})
		}
		if err != nil {
			p.failure(err)
			continue
		}

		p.message(turn.Reply)
		if turn.Degraded {
			fmt.Fprintln(out, "(type /retry to try again)")
			continue
		}
		suggestions = turn.Reply.Suggestions
		if turn.Session.FinishEligible {
			fmt.Fprintln(out, "(type /report for your report, or keep going)")
		}
	}
}

// pickSuggestion maps "2" to the second suggestion; anything else is sent as typed.
func pickSuggestion(line string, suggestions []string, lang bilingual.Language) string {
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(suggestions) {
		return line
	}
	return bilingual.Pick(suggestions[n-1], lang)
}

type printer struct {
	w    io.Writer
	lang bilingual.Language
}

func (p printer) text(s string) string {
	return bilingual.Pick(s, p.lang)
}

func (p printer) message(m *domain.Message) {
	fmt.Fprintf(p.w, "\n%s\n\n", p.text(m.Content))
	for i, s := range m.Suggestions {
		fmt.Fprintf(p.w, "  %d. %s\n", i+1, p.text(s))
	}
	if len(m.Suggestions) > 0 {
		fmt.Fprintln(p.w)
	}
}

func (p printer) failure(err error) {
	switch {
	case retry.IsRateLimited(err):
		fmt.Fprintln(p.w, "connection interrupted; type /retry to resend your answer")
	case errors.Is(err, domain.ErrNotFinishEligible):
		fmt.Fprintln(p.w, "not enough turns for a report yet")
	case errors.Is(err, domain.ErrTurnPending):
		fmt.Fprintln(p.w, "your last answer has no reply yet; type /retry")
	default:
		fmt.Fprintln(p.w, "error:", err)
	}
}

func (p printer) report(res *domain.DiscoveryResult) {
	fmt.Fprintf(p.w, "\n== %s ==\n\n%s\n", p.text(res.Title), p.text(res.Summary))
	if res.PhilosophicalTrend != "" {
		fmt.Fprintf(p.w, "\n* %s\n", p.text(res.PhilosophicalTrend))
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(p.w, "\n%s\n", title)
		for _, it := range items {
			fmt.Fprintf(p.w, "  - %s\n", p.text(it))
		}
	}
	section("Insights", res.KeyInsights)
	section("Paths", res.SuggestedPaths)

	if len(res.Dimensions) > 0 {
		fmt.Fprintln(p.w)
		for _, d := range res.Dimensions {
			fmt.Fprintf(p.w, "  %-24s %3d %s\n", p.text(d.Label), d.Value, strings.Repeat("#", d.Value/5))
		}
	}
	fmt.Fprintf(p.w, "\n\"%s\"\n", p.text(res.Motto))
}
