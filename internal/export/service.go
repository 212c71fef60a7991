// Package export renders the profile roster as an XLSX workbook.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"certhub/internal/profile"
)

// Service produces XLSX bytes from a state snapshot.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// RosterXLSX returns a workbook with one row per profile, in collection
// order. Absent dates render as empty cells.
func (s *Service) RosterXLSX(snap profile.Snapshot) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Roster"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet so the roster is the only one.
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"ID",
		"Name (CN)",
		"Name (Pinyin)",
		"Birthday",
		"Baptism Date",
		"Status",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, p := range snap.Profiles {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, p.ID)
		write(2, p.NameCN)
		write(3, p.NamePinyin)
		if p.Birthday != nil {
			write(4, p.Birthday.Format("2006-01-02"))
		}
		if p.BaptismDate != nil {
			write(5, p.BaptismDate.Format("2006-01-02"))
		}
		write(6, string(p.Status))

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 16) // id
	_ = f.SetColWidth(sheet, "B", "C", 24) // names
	_ = f.SetColWidth(sheet, "D", "E", 14) // dates
	_ = f.SetColWidth(sheet, "F", "F", 12) // status

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.roster.ok",
		"rows", len(snap.Profiles),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
