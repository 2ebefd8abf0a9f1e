package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"envbme/internal/models"
	"envbme/pkg/config"
	"envbme/pkg/covariance"
	"envbme/pkg/crossval"
	"envbme/pkg/solver"
)

func main() {
	// Parse command line arguments
	hardPath := flag.String("hard", "", "Hard observation table (spatial columns, time, value)")
	softPath := flag.String("soft", "", "Soft observation table (spatial columns, time, mean, variance[, lower, upper])")
	targetPath := flag.String("targets", "", "Estimation target table (spatial columns, time)")
	outputPath := flag.String("output", "estimates.txt", "Output table filename")
	dims := flag.Int("dims", 2, "Number of spatial coordinate columns")
	configPath := flag.String("config", "envbme.yaml", "Configuration file (YAML)")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *hardPath == "" || *targetPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Output.Verbose)
	defer logger.Sync()

	// Load observation tables
	hard, err := loadHard(*hardPath, *dims)
	if err != nil {
		log.Fatalf("Failed to load hard data: %v", err)
	}
	soft, softErr := loadSoftOptional(*softPath, *dims)
	if softErr != nil {
		log.Fatalf("Failed to load soft data: %v", softErr)
	}
	targets, err := loadTargets(*targetPath, *dims)
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("BAYESIAN MAXIMUM ENTROPY SPATIOTEMPORAL ESTIMATION")
	fmt.Println("================================")
	fmt.Printf("Hard observations: %d\n", len(hard))
	fmt.Printf("Soft observations: %d\n", len(soft))
	fmt.Printf("Targets:           %d\n", len(targets))

	// Fit the covariance model to the empirical surface
	family, err := covariance.ParseFamily(cfg.Covariance.Family)
	if err != nil {
		log.Fatalf("Invalid covariance family: %v", err)
	}
	spatialLags := covariance.LogSpacedLags(cfg.Covariance.MaxSpatialLag, cfg.Covariance.SpatialBins)
	temporalLags := covariance.LogSpacedLags(cfg.Covariance.MaxTemporalLag, cfg.Covariance.TemporalBins)

	surface, err := covariance.Empirical(hard, soft, spatialLags, temporalLags, cfg.Solver.Convention)
	if err != nil {
		log.Fatalf("Empirical covariance failed: %v", err)
	}
	fitOpts := covariance.FitOptions{MaxIterations: cfg.Covariance.MaxIterations}
	fit, err := covariance.Fit(surface, family, cfg.Covariance.Initial, fitOpts)
	if err != nil {
		log.Fatalf("Covariance fit failed: %v", err)
	}
	model := fit.Model
	fmt.Printf("\nFitted %s model:\n", model.Family)
	fmt.Printf("  sill:           %.6g\n", model.Params.Sill)
	fmt.Printf("  spatial range:  %.6g\n", model.Params.SpatialRange)
	fmt.Printf("  temporal range: %.6g\n", model.Params.TemporalRange)
	if model.Params.Nugget > 0 {
		fmt.Printf("  nugget:         %.6g\n", model.Params.Nugget)
	}

	// Optional directional anisotropy analysis
	if len(cfg.Covariance.Sectors) > 0 {
		reportAnisotropy(cfg, hard, soft, spatialLags, temporalLags, fitOpts, logger)
	}

	// Optional leave-one-out cross-validation
	if cfg.Processing.CrossValidate {
		fmt.Println("\nRunning leave-one-out cross-validation...")
		report, err := crossval.Perform(model, hard, soft, crossval.Options{
			Solver:  cfg.Solver,
			Workers: cfg.Processing.NumCores,
		}, logger)
		if err != nil {
			log.Fatalf("Cross-validation failed: %v", err)
		}
		fmt.Printf("  evaluated: %d  failed: %d\n", report.Evaluated, report.Failed)
		fmt.Printf("  bias: %.6g  rmse: %.6g\n", report.Bias, report.RMSE)
	}

	// Optional local-mean smoothing before estimation
	var smoothing *solver.Smoothing
	estHard, estSoft := hard, soft
	if cfg.Smoothing.Enabled {
		smoothing, err = solver.Smooth(hard, soft, targets,
			cfg.Solver.Neighborhood, cfg.Solver.Convention)
		if err != nil {
			log.Fatalf("Smoothing failed: %v", err)
		}
		estHard, estSoft = smoothing.Hard, smoothing.Soft
		fmt.Println("\nLocal-mean smoothing applied; estimating residuals")
	}

	est, err := solver.NewEstimator(model, estHard, estSoft, cfg.Solver)
	if err != nil {
		log.Fatalf("Failed to build estimator: %v", err)
	}
	est.SetLogger(logger)
	if cfg.Cache.Dir != "" {
		runName := cfg.Cache.RunName
		if runName == "" {
			runName = uuid.NewString()
		}
		est.SetCache(solver.NewDiskCache(cfg.Cache.Dir), runName)
		fmt.Printf("\nCaching to %s (run %s)\n", cfg.Cache.Dir, runName)
	}
	est.SetProgressCallback(func(completed, total int, message string) {
		fmt.Printf("\r  %d/%d %s", completed, total, message)
		if completed == total {
			fmt.Println()
		}
	})

	fmt.Println("\nStarting moment estimation...")
	startTime := time.Now()
	items := est.EstimateBatch(targets, cfg.Processing.NumCores)
	if smoothing != nil {
		smoothing.Restore(items)
	}
	elapsed := time.Since(startTime)

	succeeded := 0
	for _, item := range items {
		if item.Err == nil {
			succeeded++
		}
	}
	fmt.Printf("Estimation completed in %.2f seconds (%d/%d targets)\n",
		elapsed.Seconds(), succeeded, len(items))

	if err := writeEstimates(*outputPath, targets, items); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	fmt.Printf("Estimates saved to: %s\n", *outputPath)
}

func newLogger(verbose bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func loadSoftOptional(path string, dims int) ([]models.SoftObservation, error) {
	if path == "" {
		return nil, nil
	}
	return loadSoft(path, dims)
}

func reportAnisotropy(cfg *config.Config, hard []models.HardObservation,
	soft []models.SoftObservation, spatialLags, temporalLags []float64,
	fitOpts covariance.FitOptions, logger *zap.Logger) {

	surfaces, err := covariance.Directional(hard, soft, spatialLags, temporalLags,
		cfg.Covariance.Sectors, cfg.Covariance.SectorTolerance, cfg.Solver.Convention)
	if err != nil {
		logger.Warn("directional covariance failed", zap.Error(err))
		return
	}
	ranges := covariance.SectorRanges(surfaces, cfg.Covariance.Initial, fitOpts)
	summary, err := covariance.AnisotropyFromRanges(cfg.Covariance.Sectors, ranges)
	if err != nil {
		logger.Warn("anisotropy summary failed", zap.Error(err))
		return
	}
	fmt.Printf("\nAnisotropy: ratio %.3f, direction %.1f deg\n",
		summary.Ratio, summary.Direction)
}

// writeEstimates writes one row per target: spatial columns, time, mean,
// variance, skewness. Failed targets are written with NaN moments so row
// order matches the input mesh.
func writeEstimates(path string, targets []models.Point, items []solver.BatchItem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "# space... time mean variance skewness")
	for i, item := range items {
		for _, c := range targets[i].Space {
			fmt.Fprintf(f, "%g ", c)
		}
		if item.Err != nil || item.Result == nil {
			fmt.Fprintf(f, "%g NaN NaN NaN\n", targets[i].Time)
			continue
		}
		fmt.Fprintf(f, "%g %g %g %g\n",
			targets[i].Time, item.Result.Mean, item.Result.Variance, item.Result.Skewness)
	}
	return nil
}
