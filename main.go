// Package main provides the entry point for the bookvoice CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bookvoice/bookvoice/assemble"
	"github.com/bookvoice/bookvoice/internal/cache"
	"github.com/bookvoice/bookvoice/pipeline"
	"github.com/bookvoice/bookvoice/rewrite"
	"github.com/bookvoice/bookvoice/synth"
	"github.com/bookvoice/bookvoice/synth/engines/espeak"
	"github.com/bookvoice/bookvoice/synth/engines/mock"
	"github.com/bookvoice/bookvoice/synth/engines/serve"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	outputFile string
	engineName string
	voiceName  string
	speechRate float64
	maxChars   int
	noCache    bool
	noRewrite  bool

	rootCmd = &cobra.Command{
		Use:   "bookvoice [FILE]",
		Short: "Turn books into audiobooks on the CLI",
		Long: paragraph(
			fmt.Sprintf("\nConvert a book to a narrated audiobook, %s.", keyword("chapter markers included")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: executeConvert,
	}
)

// envConfig is read from the environment; secrets never go in the config
// file.
type envConfig struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	Debug        bool   `env:"BOOKVOICE_DEBUG"`
	LogFile      string `env:"BOOKVOICE_LOG"`
}

func validateOptions(cmd *cobra.Command) error {
	engineName = viper.GetString("synth.engine")
	voiceName = viper.GetString("synth.voice")
	speechRate = viper.GetFloat64("synth.rate")
	maxChars = viper.GetInt("chunk.max_chars")

	switch engineName {
	case "espeak", "serve", "mock":
	default:
		return fmt.Errorf("unknown engine %q (want espeak, serve or mock)", engineName)
	}

	switch policy := viper.GetString("synth.on_chunk_failure"); policy {
	case "abort", "fallback":
	default:
		return fmt.Errorf("unknown failure policy %q (want abort or fallback)", policy)
	}

	if maxChars < 1 {
		return fmt.Errorf("chunk.max_chars must be positive, got %d", maxChars)
	}
	if speechRate < 0.1 || speechRate > 3.0 {
		return fmt.Errorf("synth.rate must be between 0.1 and 3.0, got %.2f", speechRate)
	}
	if engineName == "serve" && viper.GetString("synth.serve.url") == "" {
		return errors.New("synth.serve.url is required for the serve engine")
	}
	return nil
}

func executeConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}

	output := outputFile
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = base + ".wav"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := p.Run(ctx, input, output)
	if err != nil {
		return err
	}

	fmt.Println(renderReport(report))
	return nil
}

// buildPipeline wires the engines, cache, rewriter and assembler from the
// resolved configuration. The returned cleanup closes engines and persists
// the cache index.
func buildPipeline() (*pipeline.Pipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	primary, err := buildEngine(engineName)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { _ = primary.Close() })

	var fallback synth.Engine
	if name := viper.GetString("synth.fallback.engine"); name != "" && name != engineName {
		fb, err := buildEngine(name)
		if err != nil {
			log.Warn("fallback engine unavailable", "engine", name, "err", err)
		} else {
			fallback = fb
			closers = append(closers, func() { _ = fb.Close() })
		}
	}

	var store *cache.Store
	if !noCache {
		dir, err := cacheDir()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("unable to resolve cache directory: %w", err)
		}
		compression := 0
		if viper.GetBool("cache.compression") {
			compression = 3
		}
		store, err = cache.New(cache.Options{
			Dir:              dir,
			TTL:              time.Duration(viper.GetInt("cache.ttl_days")) * 24 * time.Hour,
			MaxEntries:       viper.GetInt("cache.max_entries"),
			CompressionLevel: compression,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("unable to open cache: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
	}

	policy := synth.PolicyAbort
	if viper.GetString("synth.on_chunk_failure") == "fallback" {
		policy = synth.PolicyFallback
	}
	synthCfg := synth.Config{
		MaxInFlight:       viper.GetInt("synth.max_in_flight"),
		RequestsPerWindow: viper.GetInt("synth.requests_per_min"),
		Window:            time.Minute,
		RetryAttempts:     viper.GetInt("synth.retry_attempts"),
		BackoffBase:       time.Duration(viper.GetInt("synth.backoff_base_ms")) * time.Millisecond,
		OnChunkFailure:    policy,
		Params: synth.Params{
			Voice: voiceName,
			Rate:  speechRate,
			Pitch: viper.GetFloat64("synth.pitch"),
		},
		FallbackParams: synth.Params{
			Voice: viper.GetString("synth.fallback.voice"),
			Rate:  speechRate,
		},
	}

	assembler := assemble.New(assemble.Config{
		SampleRate:     viper.GetInt("audio.sample_rate"),
		ChunkSilence:   time.Duration(viper.GetInt("audio.chunk_silence_ms")) * time.Millisecond,
		ChapterSilence: time.Duration(viper.GetInt("audio.chapter_silence_ms")) * time.Millisecond,
		Normalize:      viper.GetBool("audio.normalize"),
		TargetLevelDB:  viper.GetFloat64("audio.target_level_db"),
	})

	p := &pipeline.Pipeline{
		Orchestrator: synth.NewOrchestrator(primary, fallback, store, synthCfg),
		Assembler:    assembler,
		MaxChunk:     maxChars,
	}

	if !noRewrite && viper.GetBool("rewrite.enabled") {
		ecfg, err := env.ParseAs[envConfig]()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("error parsing environment: %w", err)
		}
		if ecfg.GeminiAPIKey == "" {
			log.Warn("rewrite enabled but GEMINI_API_KEY is not set, skipping rewrite")
		} else {
			rw, err := rewrite.New(rewrite.Config{
				APIKey:         ecfg.GeminiAPIKey,
				Model:          viper.GetString("rewrite.model"),
				RequestsPerMin: viper.GetInt("rewrite.requests_per_min"),
			})
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			p.Rewriter = rw
		}
	}

	return p, cleanup, nil
}

func buildEngine(name string) (synth.Engine, error) {
	switch name {
	case "espeak":
		return espeak.New()
	case "serve":
		timeout := viper.GetDuration("synth.serve.timeout")
		return serve.New(viper.GetString("synth.serve.url"), timeout), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

// cacheDir resolves the segment cache location: config first, then the
// user's platform cache directory.
func cacheDir() (string, error) {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return expandPath(dir), nil
	}
	scope := gap.NewScope(gap.User, "bookvoice")
	dir, err := scope.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "segments"), nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: input name with .wav)")
	rootCmd.Flags().StringVarP(&engineName, "engine", "e", "espeak", "synthesis engine (espeak/serve/mock)")
	rootCmd.Flags().StringVarP(&voiceName, "voice", "v", "", "voice identifier")
	rootCmd.Flags().Float64VarP(&speechRate, "rate", "r", 1.0, "speech rate multiplier")
	rootCmd.Flags().IntVar(&maxChars, "max-chars", 0, "chunk size limit in characters")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "synthesize everything fresh")
	rootCmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "skip the narration rewrite pass")

	// Config bindings
	_ = viper.BindPFlag("synth.engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("synth.voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("synth.rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("chunk.max_chars", rootCmd.Flags().Lookup("max-chars"))

	viper.SetDefault("chunk.max_chars", 2000)
	viper.SetDefault("synth.engine", "espeak")
	viper.SetDefault("synth.voice", "")
	viper.SetDefault("synth.rate", 1.0)
	viper.SetDefault("synth.pitch", 0.0)
	viper.SetDefault("synth.max_in_flight", 4)
	viper.SetDefault("synth.requests_per_min", 0)
	viper.SetDefault("synth.retry_attempts", 3)
	viper.SetDefault("synth.backoff_base_ms", 500)
	viper.SetDefault("synth.on_chunk_failure", "abort")
	viper.SetDefault("synth.fallback.engine", "")
	viper.SetDefault("synth.fallback.voice", "")
	viper.SetDefault("synth.serve.url", "")
	viper.SetDefault("synth.serve.timeout", "2m")
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.ttl_days", 30)
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.compression", true)
	viper.SetDefault("audio.sample_rate", 22050)
	viper.SetDefault("audio.chunk_silence_ms", 400)
	viper.SetDefault("audio.chapter_silence_ms", 2000)
	viper.SetDefault("audio.normalize", true)
	viper.SetDefault("audio.target_level_db", -20.0)
	viper.SetDefault("rewrite.enabled", false)
	viper.SetDefault("rewrite.model", "gemini-1.5-flash")
	viper.SetDefault("rewrite.requests_per_min", 15)

	rootCmd.AddCommand(configCmd, cacheCmd, watchCmd, playCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "bookvoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "bookvoice")}, dirs...)
	}

	if c := os.Getenv("BOOKVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("bookvoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("bookvoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "bookvoice.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
