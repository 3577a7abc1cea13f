package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/quanttide/breakout-bot/internal/events"
)

const (
	transitionsSheet = "Transitions"
	riskSheet        = "Risk Decisions"
	ordersSheet      = "Orders"
	errorsSheet      = "Errors"
)

// ExcelExporter writes a recorded session to a workbook, one sheet per
// event family, for post-session review.
type ExcelExporter struct{}

// NewExcelExporter creates a new exporter.
func NewExcelExporter() *ExcelExporter {
	return &ExcelExporter{}
}

// Export writes the recorder's trail to path, creating parent
// directories as needed.
func (x *ExcelExporter) Export(rec *Recorder, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), transitionsSheet)
	fx.NewSheet(riskSheet)
	fx.NewSheet(ordersSheet)
	fx.NewSheet(errorsSheet)

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}

	trail := rec.Events()
	if err := x.writeTransitions(fx, headerStyle, trail); err != nil {
		return err
	}
	if err := x.writeRiskDecisions(fx, headerStyle, trail); err != nil {
		return err
	}
	if err := x.writeOrders(fx, headerStyle, trail); err != nil {
		return err
	}
	if err := x.writeErrors(fx, headerStyle, trail); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func writeHeader(fx *excelize.File, sheet string, style int, cols []string) error {
	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func setRow(fx *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func (x *ExcelExporter) writeTransitions(fx *excelize.File, style int, trail []events.Event) error {
	cols := []string{"Timestamp", "Session", "From", "To", "Reason"}
	if err := writeHeader(fx, transitionsSheet, style, cols); err != nil {
		return err
	}

	row := 2
	for _, e := range trail {
		if e.Type != events.TypeTransition {
			continue
		}
		if err := setRow(fx, transitionsSheet, row, []interface{}{
			e.Timestamp.Format("2006-01-02 15:04:05.000"),
			e.SessionID, e.FromState, e.ToState, e.Reason,
		}); err != nil {
			return err
		}
		row++
	}
	return nil
}

func (x *ExcelExporter) writeRiskDecisions(fx *excelize.File, style int, trail []events.Event) error {
	cols := []string{"Timestamp", "Session", "Symbol", "Side", "Strategy", "Decision", "Quantity", "Notional USD", "Size Reduced"}
	if err := writeHeader(fx, riskSheet, style, cols); err != nil {
		return err
	}

	row := 2
	for _, e := range trail {
		if e.Type != events.TypeRiskDecision {
			continue
		}
		if err := setRow(fx, riskSheet, row, []interface{}{
			e.Timestamp.Format("2006-01-02 15:04:05.000"),
			e.SessionID,
			e.Metadata["symbol"],
			e.Metadata["side"],
			e.Metadata["strategy"],
			e.Reason,
			e.Metadata["quantity"],
			e.Metadata["notional_usd"],
			e.Metadata["size_reduced"],
		}); err != nil {
			return err
		}
		row++
	}
	return nil
}

func (x *ExcelExporter) writeOrders(fx *excelize.File, style int, trail []events.Event) error {
	cols := []string{"Timestamp", "Session", "Order ID", "Symbol", "Side", "Quantity", "Price"}
	if err := writeHeader(fx, ordersSheet, style, cols); err != nil {
		return err
	}

	row := 2
	for _, e := range trail {
		if e.Type != events.TypeOrder {
			continue
		}
		if err := setRow(fx, ordersSheet, row, []interface{}{
			e.Timestamp.Format("2006-01-02 15:04:05.000"),
			e.SessionID,
			e.Metadata["order_id"],
			e.Metadata["symbol"],
			e.Metadata["side"],
			e.Metadata["quantity"],
			e.Metadata["price"],
		}); err != nil {
			return err
		}
		row++
	}
	return nil
}

func (x *ExcelExporter) writeErrors(fx *excelize.File, style int, trail []events.Event) error {
	cols := []string{"Timestamp", "Session", "Phase", "Error"}
	if err := writeHeader(fx, errorsSheet, style, cols); err != nil {
		return err
	}

	row := 2
	for _, e := range trail {
		if e.Type != events.TypePhaseError {
			continue
		}
		if err := setRow(fx, errorsSheet, row, []interface{}{
			e.Timestamp.Format("2006-01-02 15:04:05.000"),
			e.SessionID, e.Phase, e.Reason,
		}); err != nil {
			return err
		}
		row++
	}
	return nil
}
