// Package report writes guessed orders to JSON, CSV and XLSX files.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ordermatch/internal/model"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SheetName is the worksheet written to XLSX reports.
const SheetName = "Guessed Orders"

var columns = []string{
	"Order ID", "Order Date", "User Name", "Guessed Phone", "Provider Token",
	"Transaction ID", "Match Confidence", "Matching Orders", "Unique Phones",
	"City", "Total", "Status",
}

func fields(g model.GuessedOrder) []string {
	return []string{
		fmt.Sprintf("%d", g.OrderID),
		g.OrderDate,
		g.UserName,
		g.GuessedPhone,
		g.ProviderToken,
		g.TransactionID,
		string(g.Confidence),
		fmt.Sprintf("%d", g.MatchingOrdersCount),
		fmt.Sprintf("%d", g.UniquePhoneCount),
		g.City(),
		string(g.Total),
		g.Status,
	}
}

// ParseFormats splits a comma-separated format list, dropping duplicates.
func ParseFormats(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case FormatJSON, FormatCSV, FormatXLSX:
		default:
			return nil, eris.Errorf("report: unsupported format %q", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, eris.New("report: no output formats")
	}
	return out, nil
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(path string, rows []model.GuessedOrder) error {
	if rows == nil {
		rows = []model.GuessedOrder{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal json")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// WriteCSV writes rows with a header line.
func WriteCSV(path string, rows []model.GuessedOrder) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "report: close %s", path)
		}
	}()

	cw := csv.NewWriter(f)
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "report: write CSV header")
	}
	for _, g := range rows {
		if err := cw.Write(fields(g)); err != nil {
			return eris.Wrap(err, "report: write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "report: flush CSV")
	}
	return nil
}

// WriteXLSX writes rows to a single worksheet with a bold header row.
func WriteXLSX(path string, rows []model.GuessedOrder) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := xlsx.NewStyle()
	header.Font.Bold = true
	header.Font.Color = "FFFFFFFF"
	header.Fill = *xlsx.NewFill("solid", "FF4472C4", "FF4472C4")
	header.ApplyFont = true
	header.ApplyFill = true

	hr := sheet.AddRow()
	for _, name := range columns {
		cell := hr.AddCell()
		cell.SetString(name)
		cell.SetStyle(header)
	}

	for _, g := range rows {
		row := sheet.AddRow()
		for i, v := range fields(g) {
			cell := row.AddCell()
			switch i {
			case 0:
				cell.SetInt(int(g.OrderID))
			case 7:
				cell.SetInt(g.MatchingOrdersCount)
			case 8:
				cell.SetInt(g.UniquePhoneCount)
			case 10:
				if g.Total != "" {
					cell.SetFloat(g.Total.Float())
				} else {
					cell.SetString("")
				}
			default:
				cell.SetString(v)
			}
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// WriteAll writes rows in every requested format to dir/base.<ext>
// concurrently and returns the written paths in format order.
func WriteAll(ctx context.Context, dir, base string, formats []string, rows []model.GuessedOrder) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "report: create dir %s", dir)
	}

	paths := make([]string, len(formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, format := range formats {
		path := filepath.Join(dir, base+"."+format)
		paths[i] = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var err error
			switch format {
			case FormatJSON:
				err = WriteJSON(path, rows)
			case FormatCSV:
				err = WriteCSV(path, rows)
			case FormatXLSX:
				err = WriteXLSX(path, rows)
			default:
				err = eris.Errorf("report: unsupported format %q", format)
			}
			if err != nil {
				return err
			}
			zap.L().Info("report written", zap.String("path", path), zap.Int("rows", len(rows)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
