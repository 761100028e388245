package internal

import (
	"log"
	"os"
)

type StdLogger interface {
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Print(v ...interface{})
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

var Logger StdLogger = log.New(os.Stderr, "hg: ", log.LstdFlags|log.Lshortfile)
