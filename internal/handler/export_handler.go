package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesh97/bomhelper/internal/export"
	"github.com/charlesh97/bomhelper/internal/session"
)

// ExportHandler projects confirmed selections into downloadable BOMs.
type ExportHandler struct {
	coord *session.Coordinator
}

func NewExportHandler(coord *session.Coordinator) *ExportHandler {
	return &ExportHandler{coord: coord}
}

func (h *ExportHandler) project() ([]export.Record, error) {
	var records []export.Record
	err := h.coord.WithSession(func(s *session.Session) error {
		var projErr error
		records, projErr = export.Project(s)
		return projErr
	})
	return records, err
}

// Preview returns the export records as JSON without producing a file.
// GET /api/v1/export/preview
func (h *ExportHandler) Preview(c *gin.Context) {
	records, err := h.project()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{
		"columns": export.Columns,
		"items":   records,
		"count":   len(records),
	})
}

// CSV downloads the checked parts as a CSV file.
// GET /api/v1/export/csv
func (h *ExportHandler) CSV(c *gin.Context) {
	records, err := h.project()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	filename := fmt.Sprintf("bom_export_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := export.WriteCSV(c.Writer, records); err != nil {
		InternalError(c, "failed to write CSV: "+err.Error())
		return
	}
}

// Excel downloads the checked parts as a styled workbook.
// GET /api/v1/export/xlsx
func (h *ExportHandler) Excel(c *gin.Context) {
	records, err := h.project()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	f, err := export.WriteExcel(records)
	if err != nil {
		InternalError(c, "failed to build workbook: "+err.Error())
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("bom_export_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "failed to write workbook: "+err.Error())
		return
	}
}
