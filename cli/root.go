package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/serpent"

	"github.com/retracehq/retrace/buildinfo"
	"github.com/retracehq/retrace/retracesdk"
)

const (
	varURL     = "url"
	varVerbose = "verbose"

	envURL     = "RETRACE_URL"
	envVerbose = "RETRACE_VERBOSE"
)

// RootCmd contains the options shared by every subcommand.
type RootCmd struct {
	clientURL serpent.URL
	verbose   bool
}

func (r *RootCmd) Command() *serpent.Command {
	cmd := &serpent.Command{
		Use:   "retrace",
		Short: "Chat with your own browsing history.",
		Long: fmt.Sprintf("Retrace %s: upload your browsing history to a Retrace server and ask questions about it.\n", buildinfo.Version()) + formatExamples(
			example{
				Description: "Start a Retrace server",
				Command:     "retrace server",
			},
			example{
				Description: "Ask about your browsing",
				Command:     "retrace chat \"what rust crates did I look at last week?\"",
			},
		),
		Handler: func(inv *serpent.Invocation) error {
			return inv.Command.HelpHandler(inv)
		},
		Children: []*serpent.Command{
			r.server(),
			r.chat(),
			r.version(),
		},
		Options: serpent.OptionSet{
			{
				Name:        varURL,
				Flag:        varURL,
				Env:         envURL,
				Description: "URL of the Retrace server.",
				Default:     "http://127.0.0.1:8080",
				Value:       &r.clientURL,
			},
			{
				Name:          varVerbose,
				Flag:          varVerbose,
				FlagShorthand: "v",
				Env:           envVerbose,
				Description:   "Enable verbose logging.",
				Value:         serpent.BoolOf(&r.verbose),
			},
		},
	}

	cmd.Walk(func(c *serpent.Command) {
		if c.HelpHandler == nil {
			c.HelpHandler = serpent.DefaultHelpFn()
		}
	})

	return cmd
}

// RunMain executes the command tree against the OS arguments and
// environment, printing a terminal failure to stderr.
func (r *RootCmd) RunMain() {
	err := r.Command().Invoke().WithOS().Run()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "retrace: %v\n", err)
		os.Exit(1)
	}
}

// initLogger builds the human-readable logger commands write to stderr.
func (r *RootCmd) initLogger(inv *serpent.Invocation) slog.Logger {
	level := slog.LevelInfo
	if r.verbose {
		level = slog.LevelDebug
	}
	return slog.Make(sloghuman.Sink(inv.Stderr)).Leveled(level)
}

// initClient builds the SDK client pointed at the configured server.
func (r *RootCmd) initClient(logger slog.Logger) *retracesdk.Client {
	client := retracesdk.New(r.clientURL.Value())
	client.Logger = logger.Named("sdk")
	return client
}

// version prints the Retrace version.
func (r *RootCmd) version() *serpent.Command {
	return &serpent.Command{
		Use:   "version",
		Short: "Show retrace version",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(0),
		),
		Handler: func(inv *serpent.Invocation) error {
			var str strings.Builder
			_, _ = str.WriteString("Retrace ")
			_, _ = str.WriteString(buildinfo.Version())
			buildTime, valid := buildinfo.Time()
			if valid {
				_, _ = str.WriteString(" " + buildTime.Format(time.UnixDate))
			}
			_, _ = str.WriteString("\n" + buildinfo.ExternalURL() + "\n")
			_, _ = fmt.Fprint(inv.Stdout, str.String())
			return nil
		},
	}
}

type example struct {
	Description string
	Command     string
}

// formatExamples prints the examples aligned under a shared header.
func formatExamples(examples ...example) string {
	var sb strings.Builder
	if len(examples) == 0 {
		return ""
	}
	_, _ = sb.WriteString("\nExamples:")
	for _, e := range examples {
		_, _ = sb.WriteString("\n")
		if e.Description != "" {
			_, _ = fmt.Fprintf(&sb, "  - %s:\n\n      ", e.Description)
		}
		_, _ = fmt.Fprintf(&sb, "$ %s\n", e.Command)
	}
	return sb.String()
}
