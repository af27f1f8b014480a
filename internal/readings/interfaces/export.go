package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	devices "powerstation-cloud/internal/devices/domain"
	readings "powerstation-cloud/internal/readings/domain"
)

// BuildReadingsXLSX renders a device's telemetry history as a workbook
// with a summary sheet and a readings sheet.
func BuildReadingsXLSX(device *devices.Device, history []readings.Reading, from, to time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Telemetry History")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", device.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Serial Number")
	_ = f.SetCellValue(summarySheet, "B4", device.SerialNumber)
	_ = f.SetCellValue(summarySheet, "A5", "From")
	_ = f.SetCellValue(summarySheet, "B5", from.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "To")
	_ = f.SetCellValue(summarySheet, "B6", to.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "Samples")
	_ = f.SetCellValue(summarySheet, "B7", len(history))
	if len(history) > 0 {
		_ = f.SetCellValue(summarySheet, "A8", "Latest Battery (%)")
		_ = f.SetCellValue(summarySheet, "B8", history[len(history)-1].BatteryLevelPct)
		_ = f.SetCellValue(summarySheet, "A9", "Latest Status")
		_ = f.SetCellValue(summarySheet, "B9", history[len(history)-1].Status)
	}

	headers := []string{"Recorded At", "Battery (%)", "Input (W)", "AC In (W)", "DC In (W)", "Output (W)", "AC Out (W)", "DC Out (W)", "USB Out (W)", "Temp (C)", "Status", "Charging"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(readingsSheet, cell, header)
	}
	for i, reading := range history {
		row := i + 2
		charging := ""
		if reading.ChargingType != nil {
			charging = *reading.ChargingType
		}
		values := []any{
			reading.RecordedAt.UTC().Format(time.RFC3339),
			reading.BatteryLevelPct,
			reading.InputWatts,
			reading.ACInputWatts,
			reading.DCInputWatts,
			reading.OutputWatts,
			reading.ACOutputWatts,
			reading.DCOutputWatts,
			reading.USBOutputWatts,
			reading.TemperatureC,
			reading.Status,
			charging,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(readingsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsPDF renders a compact telemetry report for a device.
func BuildReadingsPDF(device *devices.Device, history []readings.Reading, from, to time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Telemetry Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", device.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Serial: %s", device.SerialNumber))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s .. %s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Samples: %d", len(history)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(38, 6, "Recorded", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Battery %", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Input W", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Output W", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Temp C", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, reading := range history {
		pdf.CellFormat(38, 6, reading.RecordedAt.UTC().Format("01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, fmt.Sprintf("%.0f", reading.BatteryLevelPct), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", reading.InputWatts), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", reading.OutputWatts), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%.1f", reading.TemperatureC), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, reading.Status, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
