package madras

import (
	"log"
	"os"

	env "github.com/xyproto/env/v2"
)

// Config carries the ambient, explicitly-threaded settings for a madras
// run (Design Notes §9: "no package-level globals — every component that
// needs configuration takes it as a parameter"). It is built once by the
// caller (typically cmd/madrasctl) and passed down into whichever
// component needs it; LoadConfig below is the only place in this module
// that reads the environment.
type Config struct {
	Logger *log.Logger

	// CCMode gates connected-component extraction (ccextract.go).
	CCMode CCMode

	// Verbose enables the teacher's style of operation-by-operation
	// logging (println.go) in addition to errors.
	Verbose bool
}

// LoadConfig builds a Config from the environment, following the
// teacher's flag/env-driven CommandContext shape (cli.go) but sourced
// from MADRAS_* variables via github.com/xyproto/env/v2 rather than
// flags, since cmd/madrasctl is a thin wrapper and most configuration
// here is meant for library callers embedding this package directly.
func LoadConfig() Config {
	cfg := Config{
		Logger:  log.New(os.Stderr, "", log.LstdFlags),
		CCMode:  CCModeAlways,
		Verbose: env.Bool("MADRAS_VERBOSE"),
	}
	if env.Str("MADRAS_CC_MODE") == "debug-only" {
		cfg.CCMode = CCModeDebugOnly
	}
	return cfg
}
