package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"foil-inspector/internal/evaluation"
	"foil-inspector/internal/measure"
	"foil-inspector/internal/raster"
)

// A standard folder <dir>/<name> holds the scan <name>.tif, the reference
// maps plat.png and dirt.png, and optionally mask.tif.
const (
	standardPtFile   = "plat.png"
	standardDirtFile = "dirt.png"
	standardMaskFile = "mask.tif"
)

// StandardReport compares the analysis of a standard scan with its
// reference maps. Errors are relative, (standard-measured)/standard.
type StandardReport struct {
	Result *Result

	Pt   evaluation.Confusion
	Dirt evaluation.Confusion

	StandardPtArea   float64
	StandardDirtArea float64
	StandardDirtNum  int

	ErrorPtArea   float64
	ErrorDirtArea float64
	ErrorDirtNum  float64
}

func (c *Coordinator) EvaluateStandard(ctx context.Context, dir string, opts Options) (*StandardReport, error) {
	name := filepath.Base(filepath.Clean(dir))
	scanPath := filepath.Join(dir, name+".tif")

	maskPath := filepath.Join(dir, standardMaskFile)
	if _, err := os.Stat(maskPath); errors.Is(err, fs.ErrNotExist) {
		maskPath = ""
	}

	res, err := c.AnalyzeFile(ctx, scanPath, maskPath, opts)
	if err != nil {
		return nil, err
	}

	data := &ImageData{Width: res.Width, Height: res.Height}
	stdPt, err := c.LoadMask(filepath.Join(dir, standardPtFile), data)
	if err != nil {
		return nil, fmt.Errorf("standard %s: %w", name, err)
	}
	stdDirt, err := c.LoadMask(filepath.Join(dir, standardDirtFile), data)
	if err != nil {
		return nil, fmt.Errorf("standard %s: %w", name, err)
	}

	report := &StandardReport{Result: res}
	var scope *raster.Mask
	if maskPath != "" {
		scope = raster.Union(res.Width, res.Height, res.Maps.Pt, res.Maps.Dirt, res.Maps.Moly)
	}
	if report.Pt, err = evaluation.Compare(stdPt, res.Maps.Pt, scope); err != nil {
		return nil, err
	}
	if report.Dirt, err = evaluation.Compare(stdDirt, res.Maps.Dirt, scope); err != nil {
		return nil, err
	}

	dirtBlobs, err := c.meter.Blobs(stdDirt, res.Resolution)
	if err != nil {
		return nil, fmt.Errorf("standard dirt particles: %w", err)
	}
	report.StandardPtArea = measure.Area(stdPt.Count(), res.Resolution)
	report.StandardDirtArea = dirtBlobs.Area
	report.StandardDirtNum = dirtBlobs.Count

	report.ErrorPtArea = evaluation.RelativeError(report.StandardPtArea, res.PtArea)
	report.ErrorDirtArea = evaluation.RelativeError(report.StandardDirtArea, res.Dirt.Area)
	report.ErrorDirtNum = evaluation.RelativeError(float64(report.StandardDirtNum), float64(res.Dirt.Count))

	c.logger.Info("PipelineCoordinator", "standard evaluated", map[string]interface{}{
		"name":            name,
		"error_pt_area":   report.ErrorPtArea,
		"error_dirt_area": report.ErrorDirtArea,
		"error_dirt_num":  report.ErrorDirtNum,
		"pt_precision":    report.Pt.Precision(),
		"pt_recall":       report.Pt.Recall(),
		"pt_f_measure":    report.Pt.FMeasure(),
		"dirt_precision":  report.Dirt.Precision(),
		"dirt_recall":     report.Dirt.Recall(),
		"dirt_f_measure":  report.Dirt.FMeasure(),
	})
	return report, nil
}

var standardColumns = []string{
	"Standard",
	"ErrorPtArea",
	"ErrorDirtArea",
	"ErrorDirtNum",
	"Pt Precision",
	"Pt Recall",
	"Pt FMeasure",
	"Pt PseudoFMeasure",
	"Pt NRM",
	"Dirt Precision",
	"Dirt Recall",
	"Dirt FMeasure",
	"Dirt PseudoFMeasure",
	"Dirt NRM",
}

// scoreCells renders the per-map scores in standardColumns order.
func scoreCells(c evaluation.Confusion) []string {
	return []string{
		formatRounded(c.Precision()),
		formatRounded(c.Recall()),
		formatRounded(c.FMeasure()),
		formatRounded(c.PseudoFMeasure()),
		formatRounded(c.NRM()),
	}
}

// WriteStandardsReport writes one row per standard, sorted by name.
func WriteStandardsReport(w io.Writer, header ReportHeader, reports []*StandardReport) error {
	cw := csv.NewWriter(w)
	title := [][]string{
		{header.Title, "", header.Name},
		{"Date:", header.Date.Format("2006-01-02 15:04:05")},
		{"Computer:", header.Computer, "Version", header.Version},
		standardColumns,
	}
	if err := cw.WriteAll(title); err != nil {
		return fmt.Errorf("failed to write standards header: %w", err)
	}

	sorted := append([]*StandardReport(nil), reports...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Result.Name < sorted[j].Result.Name
	})

	for _, r := range sorted {
		row := []string{
			r.Result.Name,
			formatRounded(r.ErrorPtArea),
			formatRounded(r.ErrorDirtArea),
			formatRounded(r.ErrorDirtNum),
		}
		row = append(row, scoreCells(r.Pt)...)
		row = append(row, scoreCells(r.Dirt)...)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write standards row %s: %w", r.Result.Name, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatRounded(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
