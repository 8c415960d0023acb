package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"imebridge/internal/config"
	"imebridge/internal/journal"
)

func cmdJournal() {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file")
	dbPath := fs.String("db", "", "Journal database (default: from config)")
	session := fs.Int("session", -1, "Session to dump (default: list sessions)")
	run := fs.String("run", "", "Run id (default: newest run)")
	fs.Parse(os.Args[2:])

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "No journal at %s\n", path)
		os.Exit(1)
	}

	store, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	runID := *run
	if runID == "" {
		if runID, err = store.LatestRun(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if runID == "" {
			fmt.Println("Journal is empty.")
			return
		}
	}

	if *session < 0 {
		sessions, err := store.Sessions(runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printSessions(os.Stdout, runID, sessions)
		return
	}

	entries, err := store.RunEntries(runID, uint32(*session))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("=== Run %s, session %d ===\n", runID, *session)
	for _, e := range entries {
		fmt.Println(formatEntry(e))
	}
}

func printSessions(w io.Writer, run string, sessions []journal.SessionInfo) {
	fmt.Fprintf(w, "=== Run %s ===\n", run)
	for _, s := range sessions {
		blurred := "focused"
		if !s.Blurred.IsZero() {
			blurred = s.Blurred.Sub(s.Focused).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "[%d] %s  %-10s %d messages\n", s.ID, s.Focused.Format("15:04:05.000"), blurred, s.Entries)
	}
}

func formatEntry(e journal.Entry) string {
	arrow := "->"
	if e.Direction == journal.Inbound {
		arrow = "<-"
	}
	line := fmt.Sprintf("%6d %s %s %s", e.Ordinal, e.Time.Format("15:04:05.000"), arrow, e.Kind)
	if e.HasRange {
		line += fmt.Sprintf(" [%d,%d)", e.Start, e.End)
	}
	switch {
	case e.Digest != nil:
		line += fmt.Sprintf(" len=%d blake2b=%s", e.TextLen, hex.EncodeToString(e.Digest[:8]))
	case e.Text != "":
		line += fmt.Sprintf(" %q", e.Text)
	}
	return line
}
