package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"linkrescue/internal/collect"
	"linkrescue/internal/config"
	"linkrescue/internal/models"
)

var errDeadLinks = errors.New("dead links found")

func check(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "print one JSON result per line")
	failOnDead := fs.Bool("fail-on-dead", false, "exit non-zero if any link is dead")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	pageURL := fs.Arg(0)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	fetcher := collect.NewFetcher(nil, cfg.UserAgent, 2*cfg.LivenessTimeout.Duration)
	targets, err := fetcher.Collect(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("collect links from %s: %w", pageURL, err)
	}
	logger.Info("collected links", "page", pageURL, "links", len(targets))

	dead := 0
	enc := json.NewEncoder(stdout)
	for res := range a.checker.Run(ctx, targets) {
		if !res.Alive {
			dead++
		}
		if *asJSON {
			if err := enc.Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(stdout, formatResult(res))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if dead > 0 && *failOnDead {
		return errDeadLinks
	}
	return nil
}

// formatResult renders one line of the human-readable report.
func formatResult(r models.CheckResult) string {
	switch {
	case r.Alive:
		return "OK                " + r.URL
	case r.Archive != nil && r.Archive.Archived:
		line := "DEAD archived     " + r.URL + " -> " + r.Archive.ArchiveURL
		if d := r.Archive.SnapshotDate(); d != "" {
			line += " (" + d + ")"
		}
		return line
	default:
		line := "DEAD not archived " + r.URL
		if r.Archive != nil && r.Archive.Unconfirmed {
			line += " (archive lookup failed)"
		}
		return line
	}
}
