package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchOutputDir string

// bookExtensions are the source formats the watcher picks up.
var bookExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".mdown":    true,
}

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Convert books as they appear in a directory",
	Long:  paragraph(fmt.Sprintf("\nWatch a directory and convert every book dropped into it. Finished audiobooks land next to the source, or in %s when set.", keyword("--output-dir"))),
	Args:  cobra.ExactArgs(1),
	RunE:  executeWatch,
}

func executeWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("unable to watch: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("watching for books", "dir", dir)
	fmt.Printf("Watching %s: drop a book in to convert it (ctrl-c to stop)\n", dir)

	// Writers rarely produce a file in one event; debounce per path so the
	// conversion starts after the file settles.
	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watch error", "err", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !bookExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}

			path := event.Name
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(2*time.Second, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				convertWatched(ctx, path)
			})
			mu.Unlock()
		}
	}
}

func convertWatched(ctx context.Context, input string) {
	if ctx.Err() != nil {
		return
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	output := base + ".wav"
	if watchOutputDir != "" {
		output = filepath.Join(watchOutputDir, output)
	} else {
		output = filepath.Join(filepath.Dir(input), output)
	}

	p, cleanup, err := buildPipeline()
	if err != nil {
		log.Error("unable to build pipeline", "input", input, "err", err)
		return
	}
	defer cleanup()

	log.Info("converting", "input", input, "output", output)
	report, err := p.Run(ctx, input, output)
	if err != nil {
		log.Error("conversion failed", "input", input, "err", err)
		fmt.Printf("✗ %s: %v\n", filepath.Base(input), err)
		return
	}
	fmt.Printf("✓ %s → %s (%s)\n",
		filepath.Base(input), output, report.AudioDuration.Round(time.Second))
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputDir, "output-dir", "o", "", "directory for finished audiobooks")
}
