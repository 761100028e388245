package hg

import (
	"log"
	"os"

	"github.com/go-hg/hg/internal"
)

func init() {
	SetLogger(log.New(os.Stderr, "hg: ", log.LstdFlags|log.Lshortfile))
}

// SetLogger sets the main logger of the library. When not called the
// library logs to standard error.
func SetLogger(logger Logger) {
	internal.Logger = logger
}

// Logger is a generic logging interface used in SetLogger.
type Logger interface {
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Print(v ...interface{})
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}
