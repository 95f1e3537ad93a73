package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"foil-inspector/internal/measure"
)

// ReportHeader identifies a results file.
type ReportHeader struct {
	Title    string
	Name     string
	Date     time.Time
	Computer string
	Version  string
}

var reportColumns = []string{
	"Image",
	"Resolution (um2/px)",
	"Foil Area (mm2)",
	"Pt Area (mm2)",
	"Pt Percent",
	"Dirt Count",
	"Dirt Area (mm2)",
	"Dirt Mean Size (um2)",
	"Dirt Size StdDev (um2)",
	"Dominant Region",
	"Regions",
}

const missingCell = "ERROR"

// WriteReport writes one row per scan, sorted by name. Scans listed in
// failed get a row of error markers.
func WriteReport(w io.Writer, header ReportHeader, results []*Result, failed map[string]error) error {
	cw := csv.NewWriter(w)

	title := [][]string{
		{header.Title, "", header.Name},
		{"Date:", header.Date.Format("2006-01-02 15:04:05")},
		{"Computer:", header.Computer, "Version", header.Version},
		reportColumns,
	}
	if err := cw.WriteAll(title); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	rows := make(map[string][]string, len(results)+len(failed))
	for _, res := range results {
		rows[res.Name] = resultRow(res)
	}
	for name := range failed {
		if _, ok := rows[name]; ok {
			continue
		}
		row := []string{name}
		for range reportColumns[1:] {
			row = append(row, missingCell)
		}
		rows[name] = row
	}

	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := cw.Write(rows[name]); err != nil {
			return fmt.Errorf("failed to write report row %s: %w", name, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func resultRow(res *Result) []string {
	mean, sd := res.Dirt.SizeStats()
	return []string{
		res.Name,
		formatFloat(res.Resolution),
		formatFloat(measure.ToSquareMM(res.FoilArea)),
		formatFloat(measure.ToSquareMM(res.PtArea)),
		formatFloat(res.PtPercent),
		strconv.Itoa(res.Dirt.Count),
		formatFloat(measure.ToSquareMM(res.Dirt.Area)),
		formatFloat(mean),
		formatFloat(sd),
		res.Dominant.String(),
		strconv.Itoa(res.Regions.Len()),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
