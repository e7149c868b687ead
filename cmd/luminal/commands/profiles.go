package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/luminal-data/luminal/internal/pipeline"
	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/config"
	"github.com/luminal-data/luminal/pkg/segment"
)

const defaultTopProfiles = 10

// Output formats for the profiles command.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unrecognized --format value.
var ErrUnknownFormat = errors.New("unknown output format")

// NewProfilesCommand creates the `luminal profiles` command.
func NewProfilesCommand() *cobra.Command {
	var (
		configPath string
		inputPath  string
		format     string
		topN       int
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Summarize the profiles produced by an event stream",
		Long: `Profiles replays a newline-delimited JSON event file against stream
time and prints the most recently active profiles: identifiers, traits,
segment membership, and rolling feature usage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			providers, err := initObservability(cfg)
			if err != nil {
				return err
			}

			defer shutdownObservability(providers)

			in, err := openInput(inputPath)
			if err != nil {
				return err
			}

			defer in.Close()

			if noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}

			ctx := cmd.Context()
			clk := clock.NewMock(time.Time{})
			eng := pipeline.New(pipelineConfig(cfg), clk, providers.Logger, nil)

			stats, err := replayStream(ctx, eng, clk, in)
			if err != nil {
				return err
			}

			eng.Stop(ctx)

			renderErr := writeProfiles(cmd.OutOrStdout(), format, eng.TopProfiles(topN), clk.Now())
			if renderErr != nil {
				return renderErr
			}

			providers.Logger.InfoContext(ctx, "replay complete",
				"decoded", stats.Decoded,
				"malformed", stats.Malformed,
				"profiles", eng.Profiles())

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&inputPath, "input", "i", stdinPath, "NDJSON event source ('-' for stdin)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json, or yaml")
	cmd.Flags().IntVarP(&topN, "top", "n", defaultTopProfiles, "number of profiles to show (0 for all)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

// profileExport is the machine-readable shape of one profile summary.
type profileExport struct {
	ProfileID        string         `json:"profileId"              yaml:"profile_id"`
	UserIDs          []string       `json:"userIds,omitempty"      yaml:"user_ids,omitempty"`
	Emails           []string       `json:"emails,omitempty"       yaml:"emails,omitempty"`
	AnonymousIDs     []string       `json:"anonymousIds,omitempty" yaml:"anonymous_ids,omitempty"`
	Traits           map[string]any `json:"traits,omitempty"       yaml:"traits,omitempty"`
	Segments         []string       `json:"segments,omitempty"     yaml:"segments,omitempty"`
	FeatureUsedCount uint64         `json:"featureUsedCount"       yaml:"feature_used_count"`
	LastSeen         time.Time      `json:"lastSeen"               yaml:"last_seen"`
}

func exportProfiles(summaries []pipeline.ProfileSummary) []profileExport {
	exports := make([]profileExport, 0, len(summaries))

	for _, s := range summaries {
		traits := make(map[string]any, len(s.Profile.Traits))
		for name, trait := range s.Profile.Traits {
			traits[name] = trait.Value
		}

		names := make([]string, 0, len(s.Profile.Segments))
		for name := range s.Profile.Segments {
			names = append(names, name)
		}

		sort.Strings(names)

		exports = append(exports, profileExport{
			ProfileID:        string(s.Profile.ProfileID),
			UserIDs:          s.Profile.Identifiers.UserIDs,
			Emails:           s.Profile.Identifiers.Emails,
			AnonymousIDs:     s.Profile.Identifiers.AnonymousIDs,
			Traits:           traits,
			Segments:         names,
			FeatureUsedCount: s.FeatureUsedCount,
			LastSeen:         s.Profile.LastSeen,
		})
	}

	return exports
}

// writeProfiles renders summaries in the requested format.
func writeProfiles(out io.Writer, format string, summaries []pipeline.ProfileSummary, now time.Time) error {
	switch format {
	case formatTable, "":
		renderProfiles(out, summaries, now)

		return nil
	case formatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(exportProfiles(summaries)); err != nil {
			return fmt.Errorf("encode profiles: %w", err)
		}

		return nil
	case formatYAML:
		if err := yaml.NewEncoder(out).Encode(exportProfiles(summaries)); err != nil {
			return fmt.Errorf("encode profiles: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// renderProfiles prints profile summaries as a table, most recent first.
// Relative times are computed against now, which under replay is the
// stream's final timestamp.
func renderProfiles(out io.Writer, summaries []pipeline.ProfileSummary, now time.Time) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)

	tbl.AppendHeader(table.Row{"Profile", "Users", "Emails", "Anon", "Plan", "Segments", "Feature Used", "Last Seen"})

	for _, s := range summaries {
		plan := ""
		if v := s.Profile.TraitValue(segment.TraitPlan); v != nil {
			plan = fmt.Sprintf("%v", v)
		}

		tbl.AppendRow(table.Row{
			string(s.Profile.ProfileID),
			strings.Join(s.Profile.Identifiers.UserIDs, ", "),
			strings.Join(s.Profile.Identifiers.Emails, ", "),
			strings.Join(s.Profile.Identifiers.AnonymousIDs, ", "),
			plan,
			formatSegments(s.Profile.Segments),
			s.FeatureUsedCount,
			humanize.RelTime(s.Profile.LastSeen, now, "ago", "from now"),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d profiles", len(summaries))})
	tbl.Render()
}

func formatSegments(segments map[string]struct{}) string {
	if len(segments) == 0 {
		return ""
	}

	names := make([]string, 0, len(segments))
	for name := range segments {
		names = append(names, name)
	}

	sort.Strings(names)

	green := color.New(color.FgGreen)
	for i, name := range names {
		names[i] = green.Sprint(name)
	}

	return strings.Join(names, ", ")
}
