package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/article-service/internal/models"
)

const catalogSheet = "Articles"

var catalogHeader = []interface{}{"ID", "Title", "Authors", "Keywords", "Level", "Groups"}

type importExportService struct {
	articles ArticleService
	logger   *slog.Logger
}

func NewImportExportService(articles ArticleService, logger *slog.Logger) ImportExportService {
	return &importExportService{
		articles: articles,
		logger:   logger,
	}
}

// ExportCatalog writes an XLSX listing of the articles actor can see.
// Abstracts, bodies and references are left out.
func (s *importExportService) ExportCatalog(ctx context.Context, actor *models.User, w io.Writer) error {
	s.logger.Info("Exporting article catalog", "actor_id", actorID(actor))

	articles, err := s.articles.ListVisibleTo(ctx, actor)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", catalogSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := catalogHeader
	if err := f.SetSheetRow(catalogSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(catalogSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, a := range articles {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			a.ID.String(),
			a.Title,
			strings.Join(a.Authors, "; "),
			strings.Join(a.Keywords, "; "),
			string(a.Level),
			strings.Join(groupIDStrings(a.Groups), ","),
		}
		if err := f.SetSheetRow(catalogSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write article %s: %w", a.ID, err)
		}
	}

	if err := f.SetColWidth(catalogSheet, "A", "A", 38); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(catalogSheet, "B", "D", 40); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}

	s.logger.Info("Article catalog exported", "articles", len(articles))
	return nil
}
