package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookvoice/bookvoice/internal/wavio"
	"github.com/ebitengine/oto/v3"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play FILE",
	Short: "Play an audiobook file",
	Long:  paragraph(fmt.Sprintf("\nPlay a finished audiobook on the default audio device, listing its %s first.", keyword("chapter markers"))),
	Args:  cobra.ExactArgs(1),
	RunE:  executePlay,
}

func executePlay(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("unable to open audio file: %w", err)
	}

	samples, format, err := wavio.Decode(data)
	if err != nil {
		return fmt.Errorf("unable to decode audio: %w", err)
	}

	if markers, err := wavio.Markers(data); err == nil && len(markers) > 0 {
		fmt.Println("Chapters:")
		for i, m := range markers {
			at := format.Duration(m.Offset * format.Channels)
			title := m.Label
			if title == "" {
				title = fmt.Sprintf("Chapter %d", i+1)
			}
			fmt.Printf("  %8s  %s\n", at.Round(time.Second), title)
		}
		fmt.Println()
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("unable to open audio device: %w", err)
	}
	<-ready

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s)) //nolint:gosec
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close() //nolint:errcheck
	player.Play()

	total := format.Duration(len(samples))
	fmt.Printf("Playing %s (%s)\n", args[0], total.Round(time.Second))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}
