package httpapi

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"twin-gateway/internal/models"
	"twin-gateway/internal/repository"
)

var TelemetryExportHeader = []string{
	"Timestamp",
	"Asset ID",
	"Status",
	"Temperature",
	"Humidity",
	"Pressure",
	"Vibration",
	"Power Consumption",
}

var telemetryColumnWidths = []float64{28, 20, 12, 14, 14, 14, 14, 20}

const telemetrySheet = "Telemetry"

// GenerateTelemetryExport renders rows as a single-sheet workbook. Missing
// metric values are left blank.
func GenerateTelemetryExport(assetID string, rows []repository.TelemetryRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(telemetrySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range TelemetryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(telemetrySheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(telemetrySheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(telemetrySheet, name, name, telemetryColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, rec := range rows {
		values := []any{
			models.FormatTime(rec.Timestamp),
			assetID,
			string(rec.Status),
		}
		for _, m := range models.Metrics {
			if v, ok := rec.Value(m); ok {
				values = append(values, v)
			} else {
				values = append(values, nil)
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(telemetrySheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
