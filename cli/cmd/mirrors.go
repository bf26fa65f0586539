package cmd

import (
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/packwright/packwright/cli/render"
	"github.com/packwright/packwright/mirror"
)

// MirrorsCommand returns the mirrors command. It reports persisted
// origin health and never touches the network.
func MirrorsCommand() *cli.Command {
	return &cli.Command{
		Name:   "mirrors",
		Usage:  "Show persisted per-origin health scores and counters",
		Flags:  ReadOnlyFlags(),
		Action: mirrorsAction,
	}
}

// MirrorRow is one origin/class line in the mirrors report. Score is
// the EWMA of elapsed milliseconds per MiB; zero means never probed.
type MirrorRow struct {
	Origin      string  `json:"origin" yaml:"origin"`
	Class       string  `json:"class" yaml:"class"`
	Score       float64 `json:"score" yaml:"score"`
	Success     int64   `json:"success" yaml:"success"`
	Failure     int64   `json:"failure" yaml:"failure"`
	LastSuccess string  `json:"last_success,omitempty" yaml:"last_success,omitempty"`
}

func mirrorsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	stats, err := mirror.NewStore(cfg.Paths.MirrorStats).Load()
	if err != nil {
		return err
	}

	origins := make([]string, 0, len(stats))
	for origin := range stats {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	rows := make([]MirrorRow, 0, len(origins)*2)
	for _, origin := range origins {
		stat := stats[origin]
		rows = append(rows,
			mirrorRow(origin, string(mirror.ClassManifest), stat.Manifest),
			mirrorRow(origin, string(mirror.ClassBlob), stat.Blob),
		)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(rows)
}

func mirrorRow(origin, class string, stat mirror.ClassStat) MirrorRow {
	row := MirrorRow{
		Origin:  origin,
		Class:   class,
		Score:   stat.Score,
		Success: stat.Success,
		Failure: stat.Failure,
	}
	if !stat.LastSuccess.IsZero() {
		row.LastSuccess = stat.LastSuccess.Format(time.RFC3339)
	}
	return row
}
