package export

import (
	"bytes"
	"fmt"
	"time"

	"hospital-queue/internal/models"

	"github.com/xuri/excelize/v2"
)

// HistorySheet 工作表名
const HistorySheet = "Queue History"

// HistoryHeader 导出表头（训练流水线按列名读取）
var HistoryHeader = []string{
	"Entry ID",
	"Queue Number",
	"Patient ID",
	"Department ID",
	"Examination ID",
	"Equipment ID",
	"Priority",
	"Status",
	"Enter Time",
	"Start Time",
	"End Time",
	"Estimated Wait",
	"Actual Wait",
	"Weekday",
	"Hour",
}

var historyColumnWidths = []float64{38, 26, 16, 16, 16, 16, 10, 12, 20, 20, 20, 15, 12, 10, 8}

const timeLayout = "2006-01-02 15:04:05"

// HistoryWorkbook 生成历史快照的 xlsx 文件
func HistoryWorkbook(snapshots []*models.HistorySnapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(HistorySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(HistorySheet, "A1", &HistoryHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(HistoryHeader))
	if err := f.SetCellStyle(HistorySheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, w := range historyColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(HistorySheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, s := range snapshots {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := historyRow(s)
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func historyRow(s *models.HistorySnapshot) []interface{} {
	return []interface{}{
		s.EntryID,
		s.QueueNumber,
		s.PatientID,
		s.DepartmentID,
		deref(s.ExaminationID),
		deref(s.EquipmentID),
		s.Priority,
		string(s.Status),
		s.EnterTime.Format(timeLayout),
		formatTime(s.StartTime),
		formatTime(s.EndTime),
		s.EstimatedWait,
		intOrEmpty(s.ActualWait),
		s.EnterTime.Weekday().String(),
		s.EnterTime.Hour(),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

func intOrEmpty(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
