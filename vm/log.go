package vm

import (
	"go.uber.org/zap"
)

// Log is the package-wide diagnostic logger. It defaults to a quiet
// production configuration; SetVerbose switches it to a development
// configuration that also emits Info-level messages such as the
// module-load diagnostics in module.go. This replaces the teacher's
// bare fmt.Println/os.Exit fatal pattern (main.go, vm/run.go's
// getDefaultRecoverFuncForVM) with the structured logger the broader
// example pack reaches for in this domain.
var Log *zap.SugaredLogger

func init() {
	SetVerbose(false)
}

// SetVerbose reconfigures the package logger for interactive/debug use:
// info and below are emitted to stderr in a human-readable form rather
// than the production JSON encoding.
func SetVerbose(verbose bool) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = logger.Sugar()
}
