package main

import (
	"fmt"
	"os"
)

// palette holds the ANSI codes used by the output helpers.
type palette struct {
	Reset string
	Bold  string
	Dim   string

	Red    string
	Green  string
	Yellow string
	Cyan   string
	White  string
}

// c is the active palette. NO_COLOR or a dumb terminal disables it.
var c = func() palette {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return palette{}
	}
	return palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
		White:  "\033[37m",
	}
}()

func printSection(title string) {
	fmt.Printf("\n%s%s%s%s\n\n", c.Bold, c.Cyan, title, c.Reset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError:%s %s\n", c.Bold, c.Red, c.Reset, msg)
}
