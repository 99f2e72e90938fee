package model

import "fmt"

// Format is the output format of a render.
type Format string

const (
	FormatPNG  Format = "png"  // full-page screenshot
	FormatPDF  Format = "pdf"  // single-page print document
	FormatCSV  Format = "csv"  // panel data export
	FormatXLSX Format = "xlsx" // panel data export re-encoded as a workbook
)

// ParseFormat converts a configuration string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPNG, FormatPDF, FormatCSV, FormatXLSX:
		return Format(s), nil
	case "":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unsupported output format %q (supported: png, pdf, csv, xlsx)", s)
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// PanelOnly reports whether the format requires a panel target.
// Tabular exports are driven by a panel's download control, so a bare
// dashboard can never produce them.
func (f Format) PanelOnly() bool {
	return f == FormatCSV || f == FormatXLSX
}
