package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose     = "verbose"
	FlagConfig      = "config"
	FlagLogFile     = "log-file"
	FlagJournalFile = "journal-file"
	FlagStatsFile   = "stats-file"

	// Run command flags
	FlagScript       = "script"
	FlagThreshold    = "threshold"
	FlagColor        = "color"
	FlagStopWhenDone = "stop-when-done"

	// Journal command flags
	FlagFollow = "follow"
	FlagCount  = "count"

	// Output format flags
	FlagJSON = "json"
)
