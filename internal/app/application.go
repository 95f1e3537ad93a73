package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"foil-inspector/internal/config"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/opencv/memory"
	"foil-inspector/internal/pipeline"
	"foil-inspector/internal/raster"
)

const (
	AppName    = "foil-inspector"
	AppVersion = "1.0.0"
)

var scanExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

type shutdownHandler interface {
	Shutdown()
}

// Options come from the command line and override the configuration file.
type Options struct {
	ConfigPath string
	Inputs     []string
	MaskDir    string
	OutputDir  string
	Name       string
	Resolution float64
	LogLevel   string
	LogJSON    bool
	LogBackend string
	Workers    int
	KeepPoster bool
	PosterOnly bool
	NoMaps     bool
	// Standards treats every input as a standard folder and scores the
	// analysis against its reference maps.
	Standards bool
}

type Application struct {
	cfg           *config.Config
	opts          Options
	logger        logger.Logger
	tracker       *memory.Tracker
	coordinator   *pipeline.Coordinator
	shutdownables []shutdownHandler
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	shutdown      chan struct{}
	stopSignals   func()
}

// scanJob is one scan of a batch and, when a mask folder is given, its
// mask.
type scanJob struct {
	index     int
	imagePath string
	maskPath  string
	name      string
}

type scanOutcome struct {
	result *pipeline.Result
	err    error
}

func NewApplication(opts Options) (*Application, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Workers > 0 {
		cfg.Batch.Workers = opts.Workers
	}
	if opts.Resolution > 0 {
		cfg.Analysis.Resolution = opts.Resolution
	}
	if opts.LogBackend != "" {
		cfg.Logging.Backend = opts.LogBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "foil"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "Output"
	}

	log := newLogger(cfg, opts)
	log.Info("Application", "starting application", map[string]interface{}{
		"version": AppVersion,
		"workers": cfg.Batch.Workers,
		"inputs":  len(opts.Inputs),
	})

	tracker := memory.NewTracker(log)
	coordinator := pipeline.NewCoordinator(cfg, tracker, log)

	ctx, cancel := context.WithCancel(context.Background())
	application := &Application{
		cfg:         cfg,
		opts:        opts,
		logger:      log,
		tracker:     tracker,
		coordinator: coordinator,
		ctx:         ctx,
		cancel:      cancel,
		shutdown:    make(chan struct{}),
		shutdownables: []shutdownHandler{
			coordinator,
		},
	}

	application.setupSignalHandling()
	log.Info("Application", "initialization complete", nil)
	return application, nil
}

// newLogger picks the level from the flag, then LOG_LEVEL, then the
// configuration.
func newLogger(cfg *config.Config, opts Options) logger.Logger {
	level := cfg.Logging.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if !opts.LogJSON && !cfg.Logging.JSON {
		return logger.NewConsoleLogger(logger.ParseLevel(level))
	}
	if cfg.Logging.Backend == "logrus" {
		return logger.NewLogrusJSON(os.Stderr, level)
	}
	return logger.NewJSONLogger(logger.ParseLevel(level))
}

func (a *Application) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	a.stopSignals = func() { signal.Stop(sigChan) }

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("Application", "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			a.cancel()
		case <-a.ctx.Done():
			return
		}
	}()
}

// Run analyzes every scan and writes the maps and the results file.
func (a *Application) Run() error {
	start := time.Now()
	outDir := filepath.Join(a.opts.OutputDir, a.opts.Name)

	if a.opts.Standards {
		return a.runStandards(outDir)
	}

	jobs, err := a.collectScans()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no scans found in %v", a.opts.Inputs)
	}

	if a.opts.PosterOnly {
		return a.runPosters(jobs, outDir)
	}

	outcomes := a.runBatch(jobs, outDir)

	var results []*pipeline.Result
	failed := make(map[string]error)
	for i, out := range outcomes {
		if out.err != nil {
			failed[jobs[i].name] = out.err
			continue
		}
		if out.result != nil {
			results = append(results, out.result)
		}
	}

	if err := a.writeReport(outDir, results, failed); err != nil {
		return err
	}

	a.logger.Info("Application", "batch finished", map[string]interface{}{
		"scans":    len(jobs),
		"analyzed": len(results),
		"failed":   len(failed),
		"duration": time.Since(start),
	})

	if a.ctx.Err() != nil {
		return a.ctx.Err()
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d scans failed", len(failed), len(jobs))
	}
	return nil
}

// runBatch spreads the scans over the configured number of workers.
// Outcomes are stored by scan index.
func (a *Application) runBatch(jobs []scanJob, outDir string) []scanOutcome {
	outcomes := make([]scanOutcome, len(jobs))
	queue := make(chan scanJob)

	for w := 0; w < a.cfg.Batch.Workers; w++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for job := range queue {
				outcomes[job.index] = a.process(job, outDir)
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case queue <- job:
		case <-a.ctx.Done():
			a.logger.Warning("Application", "batch cancelled", map[string]interface{}{
				"remaining": len(jobs) - job.index,
			})
			for _, skipped := range jobs[job.index:] {
				outcomes[skipped.index] = scanOutcome{err: a.ctx.Err()}
			}
			break feed
		}
	}
	close(queue)
	a.wg.Wait()

	return outcomes
}

func (a *Application) process(job scanJob, outDir string) scanOutcome {
	res, err := a.coordinator.AnalyzeFile(a.ctx, job.imagePath, job.maskPath, pipeline.Options{
		Resolution: a.cfg.Analysis.Resolution,
		KeepPoster: a.opts.KeepPoster,
	})
	if err != nil {
		return scanOutcome{err: err}
	}
	if !a.opts.NoMaps {
		if err := a.coordinator.SaveResult(outDir, res); err != nil {
			return scanOutcome{err: err}
		}
	}
	return scanOutcome{result: res}
}

func (a *Application) runPosters(jobs []scanJob, outDir string) error {
	for _, job := range jobs {
		if err := a.ctx.Err(); err != nil {
			return err
		}

		data, err := a.coordinator.LoadImage(job.imagePath)
		if err != nil {
			return err
		}
		var mask *raster.Mask
		if job.maskPath != "" {
			if mask, err = a.coordinator.LoadMask(job.maskPath, data); err != nil {
				return fmt.Errorf("%s: %w", job.name, err)
			}
		}
		shading, err := a.coordinator.Shading(data, mask)
		if err != nil {
			return fmt.Errorf("%s: %w", job.name, err)
		}
		if err := a.coordinator.SaveImage(filepath.Join(outDir, "PosterMaps", job.name+".png"), shading); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) runStandards(outDir string) error {
	var reports []*pipeline.StandardReport
	for _, dir := range a.opts.Inputs {
		if err := a.ctx.Err(); err != nil {
			return err
		}
		report, err := a.coordinator.EvaluateStandard(a.ctx, dir, pipeline.Options{
			Resolution: a.cfg.Analysis.Resolution,
		})
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	return a.writeCSV(outDir, "Standards.csv", func(f *os.File, header pipeline.ReportHeader) error {
		return pipeline.WriteStandardsReport(f, header, reports)
	})
}

func (a *Application) writeReport(outDir string, results []*pipeline.Result, failed map[string]error) error {
	return a.writeCSV(outDir, "Results.csv", func(f *os.File, header pipeline.ReportHeader) error {
		return pipeline.WriteReport(f, header, results, failed)
	})
}

func (a *Application) writeCSV(outDir, file string, write func(*os.File, pipeline.ReportHeader) error) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outDir, file)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	header := pipeline.ReportHeader{
		Title:    AppName + " Data",
		Name:     a.opts.Name,
		Date:     time.Now(),
		Computer: hostName(),
		Version:  AppVersion,
	}
	if err := write(f, header); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}

	a.logger.Info("Application", "report written", map[string]interface{}{"path": path})
	return nil
}

// collectScans expands directories into their scan files, sorted by name,
// and pairs each scan with the file of the same name in the mask folder.
func (a *Application) collectScans() ([]scanJob, error) {
	var paths []string
	for _, input := range a.opts.Inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input, err)
		}
		if !info.IsDir() {
			paths = append(paths, input)
			continue
		}

		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && scanExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				found = append(found, filepath.Join(input, e.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}

	jobs := make([]scanJob, 0, len(paths))
	for i, p := range paths {
		base := filepath.Base(p)
		job := scanJob{
			index:     i,
			imagePath: p,
			name:      strings.TrimSuffix(base, filepath.Ext(base)),
		}
		if a.opts.MaskDir != "" {
			job.maskPath = filepath.Join(a.opts.MaskDir, base)
			if _, err := os.Stat(job.maskPath); err != nil {
				return nil, fmt.Errorf("no mask for %s in %s: %w", base, a.opts.MaskDir, err)
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func hostName() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

func (a *Application) initiateShutdown() {
	select {
	case <-a.shutdown:
		return
	default:
		close(a.shutdown)
	}

	a.logger.Info("Application", "shutdown sequence initiated", map[string]interface{}{
		"components": len(a.shutdownables),
	})

	a.cancel()
	if a.stopSignals != nil {
		a.stopSignals()
	}

	for i := len(a.shutdownables) - 1; i >= 0; i-- {
		component := a.shutdownables[i]

		done := make(chan struct{})
		go func() {
			defer close(done)
			component.Shutdown()
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			a.logger.Warning("Application", "component shutdown timeout", map[string]interface{}{
				"component_index": i,
			})
		}
	}

	a.logger.Info("Application", "shutdown sequence completed", nil)
}

func (a *Application) Shutdown(ctx context.Context) error {
	a.initiateShutdown()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancelled reports whether err stems from a user interrupt.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
