package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"appdate/internal/filter"
	"appdate/internal/ics"
	"appdate/internal/ingest"
	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/session"
	"appdate/internal/store"
)

func agendaCommand() *cli.Command {
	return &cli.Command{
		Name:  "agenda",
		Usage: "Print the reconciled, filtered agenda.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Value: "all", Usage: "all, synced or manual"},
			&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "Case-insensitive text search"},
			&cli.StringFlag{Name: "range", Usage: "week, month, year or custom"},
			&cli.StringFlag{Name: "from", Usage: "First date (YYYY-MM-DD) for a custom range"},
			&cli.StringFlag{Name: "to", Usage: "Last date (YYYY-MM-DD) for a custom range"},
			&cli.BoolFlag{Name: "json", Usage: "Print the view as JSON"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			sess := session.New(rt.store, session.Options{
				Location:  rt.loc,
				WeekStart: filter.ParseWeekday(rt.cfg.WeekStart),
				MaxBatch:  rt.cfg.MaxBatch,
			})
			if err := sess.Start(); err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()
			if err := sess.WaitReady(ctx); err != nil {
				return fmt.Errorf("store did not deliver snapshots: %w", err)
			}

			f := session.Filter{
				Category: filter.ParseCategory(c.String("category")),
				Search:   c.String("search"),
			}
			if c.IsSet("range") || c.IsSet("from") || c.IsSet("to") {
				kind := filter.RangeCustom
				if c.IsSet("range") {
					if kind, err = filter.ParseRangeKind(c.String("range")); err != nil {
						return err
					}
				}
				rng, err := sess.ResolveRange(kind, c.String("from"), c.String("to"))
				if err != nil {
					return err
				}
				f.Range = &rng
			}

			view := sess.Query(f)
			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			printAgenda(c.App.Writer, view)
			return nil
		},
	}
}

func printAgenda(w io.Writer, v filter.View) {
	if v.Total == 0 {
		fmt.Fprintln(w, "No appointments.")
		return
	}
	for _, d := range v.Days {
		day, _ := time.Parse(model.LayoutDate, d.Date)
		fmt.Fprintf(w, "%s %s\n", day.Format("Mon"), day.Format("02.01.2006"))
		for _, occ := range d.Occurrences {
			when := "all day    "
			if !occ.AllDay {
				when = occ.Start.Format("15:04")
				if !occ.End.IsZero() {
					when += "-" + occ.End.Format("15:04")
				} else {
					when += "      "
				}
			}
			line := fmt.Sprintf("  %s  %s", when, occ.DisplayTitle())
			if occ.Location != "" {
				line += " @ " + occ.Location
			}
			fmt.Fprintf(w, "%s  [%s]\n", line, occ.Source)
		}
	}
}

// openInput opens path for reading; "-" or empty reads stdin.
func openInput(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	return os.Open(path)
}

// openOutput creates path for writing; "-" or empty writes stdout.
func openOutput(c *cli.Context, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{c.App.Writer}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import an ICS calendar from a file, stdin or a URL.",
		ArgsUsage: "[file.ics|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Fetch the calendar from this URL"},
			&cli.BoolFlag{Name: "reset", Usage: "Delete all stored events before inserting"},
			&cli.StringFlag{Name: "since", Usage: "First date imported (default: yesterday)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			var body io.Reader
			if u := c.String("url"); u != "" {
				feed, err := ics.NewFetcher(rt.cfg.ICSCacheDir, nil).Fetch(c.Context, u)
				if err != nil {
					return err
				}
				body = bytes.NewReader(feed.Body)
			} else {
				in, err := openInput(c, c.Args().First())
				if err != nil {
					return err
				}
				defer in.Close()
				body = in
			}

			im := &ics.Importer{Store: rt.store, MaxBatch: rt.cfg.MaxBatch, Location: rt.loc}
			rep, err := im.Import(c.Context, body, ics.ImportOptions{
				Reset: c.Bool("reset"),
				Since: c.String("since"),
			})
			rt.metrics.AddImported("ics", rep.Inserted, rep.Dropped, rep.Skipped)
			fmt.Fprintf(c.App.Writer, "parsed %d, dropped %d, skipped %d, deleted %d, inserted %d\n",
				rep.Parsed, rep.Dropped, rep.Skipped, rep.Deleted, rep.Inserted)
			return err
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-ics",
		Usage: "Write all stored events as an ICS calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default: stdout)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			var events []model.Event
			for _, coll := range model.Collections {
				list, err := rt.store.List(c.Context, coll)
				if err != nil {
					return err
				}
				events = append(events, list...)
			}

			out, err := openOutput(c, c.String("out"))
			if err != nil {
				return err
			}
			if err := ics.ExportICS(out, events, rt.loc, time.Now()); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write the manual events as a JSON backup.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file, - for stdout (default: a dated file in backup.dir)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			if !c.IsSet("out") {
				path, err := writeBackupFile(c.Context, rt.store, rt.cfg.Backup.Dir, time.Now().In(rt.loc))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, path)
				return nil
			}

			events, err := rt.store.List(c.Context, model.CollectionManual)
			if err != nil {
				return err
			}
			out, err := openOutput(c, c.String("out"))
			if err != nil {
				return err
			}
			if err := ics.WriteBackup(out, events); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}
}

// writeBackupFile writes appdate-backup-YYYY-MM-DD.json into dir and returns
// its path.
func writeBackupFile(ctx context.Context, st store.Store, dir string, now time.Time) (string, error) {
	events, err := st.List(ctx, model.CollectionManual)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("appdate-backup-%s.json", model.DateOf(now)))
	tmp, err := os.CreateTemp(dir, ".appdate-backup-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := ics.WriteBackup(tmp, events); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Insert the records of a JSON backup as manual events.",
		ArgsUsage: "<backup.json|->",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("restore needs exactly one backup file", 2)
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			in, err := openInput(c, c.Args().First())
			if err != nil {
				return err
			}
			defer in.Close()

			im := &ics.Importer{Store: rt.store, MaxBatch: rt.cfg.MaxBatch, Location: rt.loc}
			rep, err := im.Restore(c.Context, in)
			rt.metrics.AddImported("backup", rep.Inserted, rep.Dropped, rep.Skipped)
			fmt.Fprintf(c.App.Writer, "parsed %d, dropped %d, inserted %d\n", rep.Parsed, rep.Dropped, rep.Inserted)
			return err
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Apply one sync notification read from a file or stdin.",
		ArgsUsage: "[message.txt|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Usage: "Message subject, used when the payload has no title"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.close()

			in, err := openInput(c, c.Args().First())
			if err != nil {
				return err
			}
			defer in.Close()
			var body strings.Builder
			if _, err := io.Copy(&body, in); err != nil {
				return err
			}

			p, err := ingest.Parse(body.String(), c.String("subject"), rt.cfg.IngestSecret)
			if err != nil {
				appLog.Warn("ingest payload ignored", "reason", err.Error())
				return err
			}
			outcome, err := ingest.Apply(c.Context, rt.store, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s %s\n", outcome, p.DocID())
			return nil
		},
	}
}
