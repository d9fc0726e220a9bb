package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"braggflood/internal/logger"
	"braggflood/internal/models"
	"braggflood/pkg/config"
	"braggflood/pkg/detector"
	"braggflood/pkg/diagnostics"
	"braggflood/pkg/fitting"
	"braggflood/pkg/hkl"
	"braggflood/pkg/integration"
	"braggflood/pkg/profile"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "braggflood.yaml", "Configuration file (defaults are used if it does not exist)")
	bankPath := flag.String("bank", "", "Detector bank file")
	peaksPath := flag.String("peaks", "", "YAML list of candidate peaks")
	outputPath := flag.String("output", "peaks.hkl", "Output HKL file")
	simulate := flag.Bool("simulate", false, "Integrate a simulated bank; -bank and -peaks, if given, receive the simulated data")
	seed := flag.Uint64("seed", 1, "Random seed for -simulate")
	diagDir := flag.String("diagnostics", "", "Directory for per-peak diagnostics (overrides output.diagnosticsDir)")
	workers := flag.Int("workers", 0, "Number of peaks integrated concurrently (overrides processing.numWorkers)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if !*simulate && (*bankPath == "" || *peaksPath == "") {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *diagDir != "" {
		cfg.Output.DiagnosticsDir = *diagDir
	}

	level := logger.ParseLevel(cfg.Output.LogLevel)
	log := logger.New(os.Stderr, level)
	if cfg.Output.Verbose {
		log = logger.NewConsole(level)
	}

	fmt.Println("================================")
	fmt.Println("FLOOD-FILL PER-PIXEL BRAGG PEAK INTEGRATION")
	fmt.Println("================================")

	banks, peaks, err := loadInputs(cfg, *simulate, *seed, *bankPath, *peaksPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading inputs failed")
	}

	crop := detector.CropSpec{
		NBins:        cfg.Window.NBins,
		NFWHM:        cfg.Window.NFWHM,
		FWHMFraction: cfg.Integration.FractionalChangeDSpacing,
	}
	inst, err := detector.NewInstrument(crop, banks...)
	if err != nil {
		log.Fatal().Err(err).Msg("indexing detector banks failed")
	}

	integrator, err := integration.NewIntegrator(cfg, inst, fitting.NewGonumEngine(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid integration setup")
	}
	integrator.SetProgressCallback(func(completed, total int) {
		fmt.Printf("\rIntegrated %d/%d peaks", completed, total)
		if completed == total {
			fmt.Println()
		}
	})

	fmt.Printf("Integrating %d peaks on %d workers...\n", len(peaks), cfg.Processing.NumWorkers)
	startTime := time.Now()
	outputs := integrator.IntegratePeaks(peaks)
	processingTime := time.Since(startTime)

	results := make([]models.PeakResult, len(outputs))
	for i, out := range outputs {
		results[i] = out.PeakResult
	}
	refls := hkl.FromResults(results, cfg.Output.IncludeNoPeak)
	scale := hkl.AutoScale(refls)
	if err := hkl.SaveFile(*outputPath, refls, scale); err != nil {
		log.Fatal().Err(err).Msg("writing HKL file failed")
	}

	if cfg.Output.DiagnosticsDir != "" {
		writeDiagnostics(log, cfg.Output.DiagnosticsDir, outputs)
	}

	s := integration.Summarize(outputs)
	fmt.Printf("\nIntegration completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Reflections written to: %s (scale %g)\n\n", *outputPath, scale)

	fmt.Printf("Summary:\n")
	fmt.Printf("========\n")
	fmt.Printf("Peaks:            %d\n", s.Total)
	fmt.Printf("Valid:            %d\n", s.Valid)
	fmt.Printf("On edge:          %d\n", s.OnEdge)
	fmt.Printf("No peak:          %d\n", s.NoPeak)
	fmt.Printf("Failed:           %d\n", s.Failed)
	fmt.Printf("Accepted pixels:  %d\n", s.Pixels)
	fmt.Printf("Mean I/sigma:     %.2f\n", s.MeanIOverSigma)
}

// loadInputs reads the bank and peak files, or simulates them
func loadInputs(cfg *config.Config, simulate bool, seed uint64, bankPath, peaksPath string) ([]*detector.Bank, []models.PeakCandidate, error) {
	if !simulate {
		banks, err := detector.LoadBanks(bankPath)
		if err != nil {
			return nil, nil, err
		}
		peaks, err := detector.LoadPeaks(peaksPath)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Loaded %d banks and %d peaks\n", len(banks), len(peaks))
		return banks, peaks, nil
	}

	b2b := cfg.Profile.BackToBack
	opts := detector.SimOptions{
		Name:       "bank1",
		Rows:       32,
		Cols:       32,
		TOFMin:     3000,
		TOFMax:     9000,
		BinWidth:   8,
		Constants:  models.DiffConstants{DIFC: 3000},
		Background: 0.5,
		Shape:      profile.BackToBackExponential{Alpha0: b2b.Alpha0, Alpha1: b2b.Alpha1, Beta0: b2b.Beta0, Beta1: b2b.Beta1},
		Sigma:      0.004,
		Seed:       seed,
	}
	spots := []struct {
		row, col int
		d, i     float64
		h, k, l  int
	}{
		{8, 8, 1.5, 2e5, 1, 1, 1},
		{8, 24, 2.1, 8e4, 2, 0, 0},
		{16, 16, 1.2, 3e4, 2, 2, 0},
		{24, 8, 1.8, 1e4, 3, 1, 1},
		{24, 24, 2.5, 2e3, 2, 2, 2},
		{1, 16, 1.6, 1e5, 4, 0, 0},
	}
	for _, s := range spots {
		opts.Peaks = append(opts.Peaks, detector.SimPeak{
			Row: s.row, Col: s.col, DSpacing: s.d, Intensity: s.i,
			SpreadRows: 0.9, SpreadCols: 0.9, H: s.h, K: s.k, L: s.l,
		})
	}

	bank, peaks, err := detector.Simulate(opts)
	if err != nil {
		return nil, nil, err
	}
	if bankPath != "" {
		if err := detector.SaveBanks(bankPath, []*detector.Bank{bank}); err != nil {
			return nil, nil, err
		}
	}
	if peaksPath != "" {
		if err := detector.SavePeaks(peaksPath, peaks); err != nil {
			return nil, nil, err
		}
	}
	fmt.Printf("Simulated a %dx%d bank with %d peaks\n", opts.Rows, opts.Cols, len(peaks))
	return []*detector.Bank{bank}, peaks, nil
}

func writeDiagnostics(log zerolog.Logger, dir string, outputs []integration.PeakOutput) {
	w, err := diagnostics.NewWriter(dir)
	if err != nil {
		log.Error().Err(err).Msg("diagnostics disabled")
		return
	}
	for _, out := range outputs {
		if _, err := w.WritePeak(out); err != nil {
			log.Warn().Err(err).Str("peak", out.Peak.String()).Msg("failed to write diagnostics")
		}
	}
	fmt.Printf("Diagnostics saved to: %s\n", dir)
}
