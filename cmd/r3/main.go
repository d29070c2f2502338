package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	r3 "github.com/codebybrett/r3-scripts-sub000"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

var version = "dev" // set via -ldflags at build time

const (
	colorYellow = "\x1b[93m"
	colorReset  = "\x1b[0m"
	historyFile = ".r3_history"
)

// exitInternal is the status for an internal fault
const exitInternal = 70

// configDir returns ~/.r3
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".r3")
}

// loadConfig reads the named file, or ~/.r3/r3.toml when it exists, and
// applies R3_* overrides from the environment
func loadConfig(path string) (*r3.Config, error) {
	if path == "" {
		if dir := configDir(); dir != "" {
			candidate := filepath.Join(dir, "r3.toml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	cfg := r3.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = r3.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// errorPrintf prints to stderr, in color on a terminal
func errorPrintf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		fmt.Fprintf(os.Stderr, "%s%s%s", colorYellow, message, colorReset)
	} else {
		fmt.Fprint(os.Stderr, message)
	}
}

// report prints an evaluation failure and returns the exit status for it
func report(err error) int {
	var exit *r3.Exit
	if errors.As(err, &exit) {
		return exit.Status
	}
	var e *r3.Error
	if errors.As(err, &e) {
		errorPrintf("%s\n", e.Report())
		return 1
	}
	errorPrintf("%v\n", err)
	return 1
}

func main() {
	os.Exit(run())
}

func run() (status int) {
	configFlag := flag.String("config", "", "Configuration file (.toml or .yaml)")
	evalFlag := flag.String("e", "", "Evaluate source text and exit")
	debugFlag := flag.Bool("debug", false, "Enable debug output")
	flag.BoolVar(debugFlag, "d", false, "Enable debug output (short)")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: r3 [options] [script [args...]]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Println("r3", version)
		return 0
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		errorPrintf("Error: %v\n", err)
		return 1
	}
	if *debugFlag {
		cfg.Debug = true
	}

	args := flag.Args()
	var source string
	interactive := false
	switch {
	case *evalFlag != "":
		source = *evalFlag
		cfg.Args = args
	case len(args) > 0:
		content, err := os.ReadFile(args[0])
		if err != nil {
			errorPrintf("Error reading script file: %v\n", err)
			return 1
		}
		source = string(content)
		cfg.Args = args[1:]
	case !term.IsTerminal(int(os.Stdin.Fd())):
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			errorPrintf("Error reading from stdin: %v\n", err)
			return 1
		}
		source = string(content)
	default:
		interactive = true
	}

	defer func() {
		if r := recover(); r != nil {
			p, ok := r.(*r3.Panic)
			if !ok {
				panic(r)
			}
			errorPrintf("%s\n", p.Error())
			status = exitInternal
		}
	}()

	rt, err := r3.New(cfg)
	if err != nil {
		errorPrintf("Error: %v\n", err)
		return exitInternal
	}
	defer func() {
		if err := rt.Close(); err != nil && status == 0 {
			errorPrintf("%v\n", err)
			status = 1
		}
	}()

	// Interrupts halt the running evaluation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			rt.Halt()
		}
	}()

	if interactive {
		return repl(rt)
	}
	if _, err := rt.Do(source); err != nil {
		return report(err)
	}
	return 0
}

// repl reads, evaluates and prints until end of input or quit
func repl(rt *r3.Runtime) int {
	fmt.Printf("r3 %s\nCtrl+C cancels input or halts evaluation, Ctrl+D exits.\n", version)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		code, ok := readInput(ln, rt)
		if !ok {
			fmt.Println()
			return 0
		}
		if strings.TrimSpace(code) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		v, err := rt.Do(code)
		if err != nil {
			var exit *r3.Exit
			if errors.As(err, &exit) {
				return exit.Status
			}
			report(err)
			continue
		}
		if v.Kind() != r3.KindUnset {
			fmt.Println("== " + rt.Mold(v, false))
		}
	}
}

// readInput reads lines until the text scans without an unclosed block or
// string
func readInput(ln *liner.State, rt *r3.Runtime) (string, bool) {
	var b strings.Builder
	for {
		prompt := ">> "
		if b.Len() > 0 {
			prompt = ".. "
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		_, serr := rt.Scan(b.String(), "console")
		var e *r3.Error
		if errors.As(serr, &e) && e.ID == r3.ErrMissing {
			continue
		}
		return b.String(), true
	}
}
