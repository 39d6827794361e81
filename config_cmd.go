package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Chunking
chunk:
  # Upper bound on characters per synthesis request
  max_chars: 2000

# Synthesis
synth:
  # Engine: espeak, serve, or mock
  engine: "espeak"
  # Voice identifier, engine specific (e.g. "en-us")
  voice: ""
  # Speech rate multiplier (0.1 to 3.0)
  rate: 1.0
  # Pitch adjustment in semitones
  pitch: 0.0
  # Concurrent engine calls
  max_in_flight: 4
  # Engine requests per minute, 0 disables the limit
  requests_per_min: 0
  # Attempts per chunk before giving up
  retry_attempts: 3
  # First retry delay in milliseconds, doubled per attempt
  backoff_base_ms: 500
  # What to do when a chunk fails all retries: abort or fallback
  on_chunk_failure: "abort"
  # Fallback engine/voice, used with on_chunk_failure: fallback
  fallback:
    engine: ""
    voice: ""
  # HTTP synthesis service, used with engine: serve
  serve:
    url: ""
    timeout: "2m"

# Segment cache
cache:
  # Directory, empty for the platform default
  dir: ""
  # Entries unused for this many days are dropped
  ttl_days: 30
  # Entry count cap, 0 disables eviction
  max_entries: 10000
  # Compress stored segments
  compression: true

# Output audio
audio:
  sample_rate: 22050
  # Silence between chunks within a chapter, milliseconds
  chunk_silence_ms: 400
  # Silence at chapter boundaries, milliseconds
  chapter_silence_ms: 2000
  # Level the output loudness
  normalize: true
  target_level_db: -20.0

# Narration rewrite (needs GEMINI_API_KEY in the environment)
rewrite:
  enabled: false
  model: "gemini-1.5-flash"
  requests_per_min: 15
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the bookvoice config file",
	Long:    paragraph(fmt.Sprintf("\n%s the bookvoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("bookvoice config\nbookvoice config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Bookvoice", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
