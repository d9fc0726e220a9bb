// Package config provides configuration loading and management for braggflood.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Peak and background function names
const (
	BackToBackExponential = "BackToBackExponential"
	Gaussian              = "Gaussian"
	FlatBackground        = "FlatBackground"
	LinearBackground      = "LinearBackground"
)

// Cost function names understood by the fit engine
const (
	CostRSq     = "RSq"
	CostChiSq   = "ChiSq"
	CostPoisson = "Poisson"
)

// Error strategy names
const (
	ErrorSummation = "Summation"
	ErrorHessian   = "Hessian"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Window controls the pixel window extracted around every peak
	Window struct {
		// NRows and NCols are the window size in detector pixels
		NRows int `yaml:"nRows"`
		NCols int `yaml:"nCols"`

		// NBins crops the TOF axis to a fixed number of bins. Ignored when
		// NFWHM is positive.
		NBins int `yaml:"nBins"`

		// NFWHM crops the TOF axis to this multiple of the expected FWHM
		NFWHM float64 `yaml:"nFWHM"`

		// EdgeMarginRows and EdgeMarginCols flag pixels this close to the
		// detector boundary
		EdgeMarginRows int `yaml:"edgeMarginRows"`
		EdgeMarginCols int `yaml:"edgeMarginCols"`
	} `yaml:"window"`

	// Profile selects the peak shape and background
	Profile struct {
		PeakFunction       string   `yaml:"peakFunction"`
		BackgroundFunction string   `yaml:"backgroundFunction"`
		FixPeakParameters  []string `yaml:"fixPeakParameters"`

		// BackToBack holds the coefficients used to seed the exponential
		// rise (A) and decay (B) constants: A = alpha0 + alpha1/d,
		// B = beta0 + beta1/d^4
		BackToBack struct {
			Alpha0 float64 `yaml:"alpha0"`
			Alpha1 float64 `yaml:"alpha1"`
			Beta0  float64 `yaml:"beta0"`
			Beta1  float64 `yaml:"beta1"`
		} `yaml:"backToBack"`
	} `yaml:"profile"`

	// Fit configures the nonlinear fit engine
	Fit struct {
		CostFunction  string `yaml:"costFunction"`
		Minimizer     string `yaml:"minimizer"`
		MaxIterations int    `yaml:"maxIterations"`

		// AcceptSmallFunctionChange treats a fit stopped because the cost
		// stopped changing as converged
		AcceptSmallFunctionChange bool `yaml:"acceptSmallFunctionChange"`
	} `yaml:"fit"`

	// Integration holds the flood-fill acceptance and error policy
	Integration struct {
		IOverSigmaThreshold      float64 `yaml:"iOverSigmaThreshold"`
		FractionalChangeDSpacing float64 `yaml:"fractionalChangeDSpacing"`
		ErrorStrategy            string  `yaml:"errorStrategy"`
		IntegrateIfOnEdge        bool    `yaml:"integrateIfOnEdge"`

		// TailFraction is trimmed from each tail of the fitted curve before
		// summing variances in the Summation strategy
		TailFraction float64 `yaml:"tailFraction"`
	} `yaml:"integration"`

	// Processing parameters
	Processing struct {
		// NumWorkers is the number of peaks integrated concurrently
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		Verbose        bool   `yaml:"verbose"`
		LogLevel       string `yaml:"logLevel"`
		DiagnosticsDir string `yaml:"diagnosticsDir"`
		IncludeNoPeak  bool   `yaml:"includeNoPeak"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Window.NRows = 7
	cfg.Window.NCols = 7
	cfg.Window.NBins = 0
	cfg.Window.NFWHM = 8
	cfg.Window.EdgeMarginRows = 1
	cfg.Window.EdgeMarginCols = 1

	cfg.Profile.PeakFunction = BackToBackExponential
	cfg.Profile.BackgroundFunction = FlatBackground
	cfg.Profile.FixPeakParameters = []string{"A"}
	cfg.Profile.BackToBack.Alpha0 = 0.05
	cfg.Profile.BackToBack.Alpha1 = 0
	cfg.Profile.BackToBack.Beta0 = 0.02
	cfg.Profile.BackToBack.Beta1 = 0

	cfg.Fit.CostFunction = CostChiSq
	cfg.Fit.Minimizer = "LBFGS"
	cfg.Fit.MaxIterations = 500
	cfg.Fit.AcceptSmallFunctionChange = true

	cfg.Integration.IOverSigmaThreshold = 2.5
	cfg.Integration.FractionalChangeDSpacing = 0.02
	cfg.Integration.ErrorStrategy = ErrorSummation
	cfg.Integration.IntegrateIfOnEdge = false
	cfg.Integration.TailFraction = 0.025

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks option values and combinations that would make every
// fit meaningless. It runs before any peak is integrated.
func (c *Config) Validate() error {
	if c.Window.NRows < 1 || c.Window.NCols < 1 {
		return fmt.Errorf("%w: window must have at least one row and column", ErrInvalidConfig)
	}
	if c.Window.NBins < 3 && c.Window.NFWHM <= 0 {
		return fmt.Errorf("%w: either nBins >= 3 or nFWHM > 0 is required", ErrInvalidConfig)
	}
	if c.Window.EdgeMarginRows < 0 || c.Window.EdgeMarginCols < 0 {
		return fmt.Errorf("%w: edge margins must be non-negative", ErrInvalidConfig)
	}
	switch c.Profile.PeakFunction {
	case BackToBackExponential, Gaussian:
	default:
		return fmt.Errorf("%w: unknown peak function %q", ErrInvalidConfig, c.Profile.PeakFunction)
	}
	switch c.Profile.BackgroundFunction {
	case FlatBackground, LinearBackground:
	default:
		return fmt.Errorf("%w: unknown background function %q", ErrInvalidConfig, c.Profile.BackgroundFunction)
	}
	switch c.Fit.CostFunction {
	case CostRSq, CostChiSq, CostPoisson:
	default:
		return fmt.Errorf("%w: unknown cost function %q", ErrInvalidConfig, c.Fit.CostFunction)
	}
	switch c.Fit.Minimizer {
	case "LBFGS", "NelderMead":
	default:
		return fmt.Errorf("%w: unknown minimizer %q", ErrInvalidConfig, c.Fit.Minimizer)
	}
	if c.Fit.MaxIterations < 1 {
		return fmt.Errorf("%w: maxIterations must be positive", ErrInvalidConfig)
	}
	switch c.Integration.ErrorStrategy {
	case ErrorSummation, ErrorHessian:
	default:
		return fmt.Errorf("%w: unknown error strategy %q", ErrInvalidConfig, c.Integration.ErrorStrategy)
	}
	if c.Integration.IOverSigmaThreshold <= 0 {
		return fmt.Errorf("%w: iOverSigmaThreshold must be positive", ErrInvalidConfig)
	}
	if c.Integration.FractionalChangeDSpacing <= 0 || c.Integration.FractionalChangeDSpacing >= 1 {
		return fmt.Errorf("%w: fractionalChangeDSpacing must be in (0, 1)", ErrInvalidConfig)
	}
	if c.Integration.TailFraction < 0 || c.Integration.TailFraction >= 0.5 {
		return fmt.Errorf("%w: tailFraction must be in [0, 0.5)", ErrInvalidConfig)
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("%w: numWorkers must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
