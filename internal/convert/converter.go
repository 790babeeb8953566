package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
)

// Result is the outcome of converting one source file.
type Result struct {
	SourcePath string `json:"source_path"`
	Format     string `json:"format"`
	Content    string `json:"content"`
	Skipped    bool   `json:"skipped"` // already canonical, nothing to do
}

// Converter turns source documents into canonical plain-text content.
// DOCX and PDF go through external tools, sheets through excelize, and
// text-like formats pass through unchanged.
type Converter struct {
	cfg    common.ConvertConfig
	runner Runner
	logger *slog.Logger
}

func NewConverter(cfg common.ConvertConfig, runner Runner, logger *slog.Logger) *Converter {
	if runner == nil {
		runner = NewExecRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{cfg: cfg, runner: runner, logger: logger}
}

// Convert dispatches on the file extension. Unsupported extensions are an
// input error, not a conversion failure.
func (c *Converter) Convert(ctx context.Context, path string) (Result, error) {
	format := constants.MapExtToFormat(filepath.Ext(path))
	if format == "" {
		return Result{}, common.NewAppError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("unsupported file extension: %s", filepath.Ext(path)), common.ErrInvalidInput)
	}

	var (
		content string
		skipped bool
		err     error
	)
	switch format {
	case constants.DOCX:
		content, err = c.convertDocx(ctx, path)
	case constants.PDF:
		content, err = c.convertPDF(ctx, path)
	case constants.SHEET:
		content, err = c.convertSheet(path)
	case constants.CSV, constants.TXT:
		// already canonical text, pass through
		content, skipped, err = c.passthrough(path)
	}
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("convert.done",
		"path", path,
		"format", format,
		"content_bytes", len(content),
		"skipped", skipped,
	)
	return Result{SourcePath: path, Format: format, Content: content, Skipped: skipped}, nil
}

func (c *Converter) convertDocx(ctx context.Context, path string) (string, error) {
	stdout, stderr, err := c.runner.Run(ctx, c.cfg.PandocPath, c.logger, "--to=plain", "--wrap=none", path)
	if err != nil {
		return "", fmt.Errorf("pandoc %s: %w (%s)", path, err, truncate(string(stderr), 512))
	}
	return string(stdout), nil
}

func (c *Converter) convertPDF(ctx context.Context, path string) (string, error) {
	// "-" writes the extracted text to stdout
	stdout, stderr, err := c.runner.Run(ctx, c.cfg.PDFToTextPath, c.logger, "-layout", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext %s: %w (%s)", path, err, truncate(string(stderr), 512))
	}
	return string(stdout), nil
}

// convertSheet renders every sheet as tab-separated rows under a sheet
// header line.
func (c *Converter) convertSheet(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (c *Converter) passthrough(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}
