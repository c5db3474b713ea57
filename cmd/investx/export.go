package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

var (
	exportFormat string
	exportTheme  string
	exportTitle  string
	exportOutput string
	exportOwner  string
)

var exportCmd = &cobra.Command{
	Use:   "export [chart-id...]",
	Short: "Export charts to a PDF or HTML document",
	Long:  `Renders the given charts, or every stored chart when no ids are given, into one document. Charts that cannot be found or rendered get a placeholder page.`,
	RunE:  runExport,
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVarP(&exportFormat, "format", "f", string(models.ExportFormatPDF), "Output format (pdf or html)")
	flags.StringVar(&exportTheme, "theme", string(theme.Light), "Chart theme (light or dark)")
	flags.StringVar(&exportTitle, "title", "", "Document title")
	flags.StringVarP(&exportOutput, "output", "o", "", "Output file (defaults to a timestamped name in the working directory)")
	flags.StringVar(&exportOwner, "owner", "", "Restrict an all-charts export to this owner plus public charts")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	var selected []*models.Chart
	if len(args) == 0 {
		selected, err = application.ChartService.List(ctx, models.ChartFilter{
			OwnerID:       exportOwner,
			IncludePublic: exportOwner != "",
		})
		if err != nil {
			return err
		}
	} else {
		for _, id := range args {
			chart, err := application.ChartService.Get(ctx, id)
			if err != nil {
				logger.Warn().Err(err).Str("chart_id", id).Msg("Chart unavailable, exporting placeholder")
				chart = &models.Chart{ID: id, Name: id}
			}
			selected = append(selected, chart)
		}
	}

	filename := ""
	if exportOutput != "" {
		filename = filepath.Base(exportOutput)
	}

	stderr := cmd.ErrOrStderr()
	doc, err := application.ExportService.Export(ctx, selected, export.Options{
		Format:   models.ExportFormat(exportFormat),
		Theme:    theme.ParseMode(exportTheme),
		Title:    exportTitle,
		Filename: filename,
	}, func(completed, total int, message string) {
		fmt.Fprintf(stderr, "[%d/%d] %s\n", completed, total, message)
	})
	if err != nil {
		return err
	}

	path := exportOutput
	if path == "" {
		path = doc.Filename
	}
	if err := os.WriteFile(path, doc.Bytes, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info().
		Str("path", path).
		Int("pages", doc.Pages).
		Int("placeholders", doc.Placeholders).
		Str("archive_key", doc.ArchiveKey).
		Msg("Export written")
	return nil
}
