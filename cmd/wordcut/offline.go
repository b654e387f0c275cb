package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordcut/internal/clipboard"
	"github.com/MrWong99/wordcut/internal/config"
	"github.com/MrWong99/wordcut/internal/export"
	"github.com/MrWong99/wordcut/internal/ingest"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/takes/phonetic"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// readTranscript loads a raw transcript from path, or stdin for "-".
func readTranscript(path string, totalDuration float64) (transcript.Transcription, error) {
	var rd io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return transcript.Transcription{}, err
		}
		defer f.Close()
		rd = f
	}
	raw, err := ingest.Parse(rd)
	if err != nil {
		return transcript.Transcription{}, err
	}
	return ingest.Transcript(raw, totalDuration)
}

func edlCmd() *cobra.Command {
	var (
		source   string
		title    string
		fps      float64
		duration float64
	)
	cmd := &cobra.Command{
		Use:   "edl <transcript.json>",
		Short: "Write the EDL of an unedited transcript",
		Long: `edl reads a raw transcript and writes a CMX 3600 style edit decision list
to stdout. Gaps between words become cuts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := readTranscript(args[0], duration)
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
			}
			return export.WriteEDL(cmd.OutOrStdout(), title, source, fps, export.Cuts(tr.Words, nil))
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "media file the EDL references")
	cmd.Flags().StringVar(&title, "title", "", "EDL title (defaults to the source name)")
	cmd.Flags().Float64Var(&fps, "fps", config.DefaultFPS, "timecode frame rate")
	cmd.Flags().Float64Var(&duration, "duration", 0, "total media duration in seconds, if known")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func takesCmd() *cobra.Command {
	var (
		threshold float64
		minWords  int
		maxWords  int
	)
	cmd := &cobra.Command{
		Use:   "takes <transcript.json>",
		Short: "List repeated takes found in a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := readTranscript(args[0], 0)
			if err != nil {
				return err
			}
			c := phonetic.New(phonetic.WithThreshold(threshold), phonetic.WithWindow(minWords, maxWords))
			desc, err := c.Classify(context.Background(), tr.Words)
			if err != nil {
				return err
			}
			words, st := takes.Detect(tr.Words, desc, takes.State{})
			return printChunks(cmd.OutOrStdout(), takes.Chunks(words, st))
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", config.DefaultTakeThreshold, "phonetic similarity needed for two takes to match")
	cmd.Flags().IntVar(&minWords, "min-words", config.DefaultTakeMinWords, "shortest take in words")
	cmd.Flags().IntVar(&maxWords, "max-words", config.DefaultTakeMaxWords, "longest take in words")
	return cmd
}

func printChunks(w io.Writer, chunks []takes.Chunk) error {
	var line []string
	flush := func() error {
		if len(line) == 0 {
			return nil
		}
		_, err := fmt.Fprintln(w, strings.Join(line, " "))
		line = line[:0]
		return err
	}
	for _, c := range chunks {
		switch c := c.(type) {
		case takes.WordChunk:
			line = append(line, c.Word.Text)
		case takes.TakeGroupChunk:
			if err := flush(); err != nil {
				return err
			}
			for i, t := range c.Takes {
				fmt.Fprintf(w, "  [group %d take %d] %s\n", c.Group.ID, i, clipboard.Text(t.Words))
			}
		}
	}
	return flush()
}
