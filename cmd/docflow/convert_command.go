package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/convert"
)

func newConvertCommand() *cobra.Command {
	var concurrency int
	var taskTimeout time.Duration
	var outDir string

	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Convert documents to plain text through the batch pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			cfg := common.LoadConfig().Convert
			cfg.MaxConcurrency = concurrency
			cfg.TaskTimeout = taskTimeout

			converter := convert.NewConverter(cfg, convert.NewExecRunner(), logger)
			results := convert.BatchConvert(cmd.Context(), cfg, converter, args)

			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
					fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", res.TaskID, res.Err)
					continue
				}
				if outDir == "" {
					fmt.Printf("OK    %s (%s, %d bytes)\n", res.TaskID, res.Result.Format, len(res.Result.Content))
					continue
				}
				path, err := writeConverted(outDir, res.TaskID, res.Result.Content)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", res.TaskID, err)
					continue
				}
				fmt.Printf("OK    %s -> %s\n", res.TaskID, path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum parallel conversions")
	cmd.Flags().DurationVar(&taskTimeout, "timeout", 60*time.Second, "Per-file conversion timeout")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write converted text files into this directory")
	return cmd
}

func writeConverted(dir, src, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := dir + "/" + sanitizeName(src) + ".txt"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeName(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
