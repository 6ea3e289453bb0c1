package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	o := Load()
	if o.ParserWorkers != 3 {
		t.Fatalf("expected default parser workers 3, got %d", o.ParserWorkers)
	}
	if o.LogLevel != LogInfo {
		t.Fatalf("expected default log level info")
	}
}

func TestValidateRejectsEmptyPaths(t *testing.T) {
	o := &Options{}
	if err := o.Validate(); err == nil {
		t.Fatal("expected validation error for empty dbPath")
	}
}

func TestValidateNormalisesWorkerCount(t *testing.T) {
	o := &Options{DBPath: "x", MLFolderPath: "y", ParserWorkers: 0}
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
	if o.ParserWorkers != 1 {
		t.Fatalf("expected worker count normalised to 1, got %d", o.ParserWorkers)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"verbose": LogVerbose,
		"debug":   LogDebug,
		"warning": LogWarning,
		"error":   LogError,
		"info":    LogInfo,
		"bogus":   LogInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
