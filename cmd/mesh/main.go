// Command mesh is a POSIX-style interactive shell with a context/history
// and meta-command layer (spec.md §1, §6). Its invocation grammar and TTY
// detection follow mvdan-sh's cmd/gosh/main.go closely; the interactive
// loop, signal discipline, and fatal-crash restart prompt are mesh's own,
// grounded on spec.md §5/§7 and original_source/src/main.c and
// src/util/error.c.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"vladaviedov.dev/mesh/internal/eval"
	"vladaviedov.dev/mesh/internal/executor"
	"vladaviedov.dev/mesh/internal/mesherr"
)

const version = "0.1.0"

var (
	showVersion  bool
	showVersion2 bool
	command      string
	positional   []string
)

func main() {
	// stdlib flag's default CommandLine uses ExitOnError, which calls
	// os.Exit(2) on an unrecognized flag; spec.md §6 requires exit 1 for
	// an invalid invocation, so parse errors are handled here instead.
	fs := flag.NewFlagSet("mesh", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.BoolVar(&showVersion, "v", false, "print version and exit")
	fs.BoolVar(&showVersion2, "version", false, "print version and exit")
	fs.StringVar(&command, "c", "", "command string to evaluate")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(int(mesherr.StatusGeneral))
	}
	positional = fs.Args()

	if showVersion || showVersion2 {
		fmt.Printf("mesh version %s\n", version)
		os.Exit(int(mesherr.StatusOK))
	}

	os.Exit(runWithRestart())
}

// runWithRestart runs the shell and implements spec.md §7 kind 7's restart
// dialog: a Fatal panic closes stdio, reopens /dev/tty, and asks the user
// whether to re-exec with the original argv, matching the teacher's own
// child-reset-via-execvp idiom (see DESIGN.md Open Question 3).
func runWithRestart() (status int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fatal, ok := r.(*mesherr.Fatal)
		if !ok {
			panic(r)
		}
		status = handleFatal(fatal)
	}()
	return run()
}

func handleFatal(f *mesherr.Fatal) int {
	fmt.Fprintf(os.Stderr, "mesh: error: %s\n", f.Msg)

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return 1
	}
	defer tty.Close()
	for fd := 0; fd <= 2; fd++ {
		_ = unix.Dup2(int(tty.Fd()), fd)
	}

	fmt.Fprint(tty, "Restart mesh? [Y/n] ")
	reply := make([]byte, 1)
	n, _ := tty.Read(reply)
	answer := "y"
	if n > 0 {
		answer = strings.ToLower(string(reply[:1]))
	}
	if answer == "n" {
		return 1
	}

	path, lookErr := exec.LookPath(os.Args[0])
	if lookErr != nil {
		path = os.Args[0]
	}
	if execErr := syscall.Exec(path, os.Args, os.Environ()); execErr != nil {
		fmt.Fprintf(os.Stderr, "mesh: error: restart failed: %v\n", execErr)
		return 1
	}
	return 0 // unreachable: Exec only returns on failure
}

func run() int {
	args := positional

	switch {
	case command != "":
		return runString(command, args)
	case len(args) > 0:
		return runFile(args[0], args[1:])
	case term.IsTerminal(int(os.Stdin.Fd())):
		return runInteractive()
	default:
		return runReader(os.Stdin, nil)
	}
}

func runString(src string, args []string) int {
	e := eval.New(executor.DefaultIO())
	e.Scope.SetPos(args)
	return e.EvalLine(src)
}

func runFile(path string, args []string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mesh: error: %s: %v\n", path, err)
		return 1
	}
	e := eval.New(executor.DefaultIO())
	e.Scope.SetPos(args)
	return evalLines(e, string(data))
}

func runReader(r *os.File, args []string) int {
	data, err := readAll(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mesh: error: %v\n", err)
		return 1
	}
	e := eval.New(executor.DefaultIO())
	e.Scope.SetPos(args)
	return evalLines(e, data)
}

func readAll(r *os.File) (string, error) {
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteByte('\n')
	}
	return sb.String(), sc.Err()
}

func evalLines(e *eval.Evaluator, src string) int {
	status := 0
	for _, line := range strings.Split(src, "\n") {
		if line == "" {
			continue
		}
		status = e.EvalLine(line)
	}
	return status
}

// runInteractive implements the top-level REPL: SIGINT/SIGQUIT are
// SIG_IGN for the shell's own lifetime (spec.md §5) — every child-starting
// path resets them to SIG_DFL first, see internal/executor.Run and
// internal/eval/builtin.go's exec. A SIGINT delivered while the reader
// blocks on stdin yields an interrupted read; the dispatcher sets ?=2 and
// redraws the prompt rather than exiting, per spec.md §5.
func runInteractive() int {
	signal.Ignore(unix.SIGINT, unix.SIGQUIT)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT)

	lines := make(chan lineResult)
	go feedLines(os.Stdin, lines)

	e := eval.New(executor.DefaultIO())
	e.ReadLine = nextLineFunc(lines, sigCh)

	ps1 := "$ "
	if v, ok := e.Env.Get("PS1"); ok && v != "" {
		ps1 = v
	}

	status := 0
	fmt.Fprint(os.Stdout, ps1)
	for {
		select {
		case <-sigCh:
			e.LastStatus = int(mesherr.StatusSigint)
			status = e.LastStatus
			fmt.Fprint(os.Stdout, ps1)
		case r, open := <-lines:
			if !open {
				return status
			}
			if strings.TrimSpace(r.text) == "" {
				fmt.Fprint(os.Stdout, ps1)
				continue
			}
			status = e.EvalLine(r.text)
			// executor.Run's signal.Reset/Ignore pair cancels this
			// Notify; register it again for the next read.
			signal.Notify(sigCh, unix.SIGINT)
			fmt.Fprint(os.Stdout, ps1)
		}
	}
}

type lineResult struct{ text string }

// feedLines is the sole reader of stdin for the lifetime of the
// interactive shell; it runs on its own goroutine so the main loop can
// select between a pending line and an asynchronously-delivered SIGINT
// instead of blocking uninterruptibly inside bufio.Reader.ReadString.
func feedLines(r *os.File, out chan<- lineResult) {
	defer close(out)
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			out <- lineResult{text: strings.TrimSuffix(line, "\n")}
		}
		if err != nil {
			return
		}
	}
}

// nextLineFunc adapts the shared line channel into the single-call
// ReadLine signature `:add` with no arguments needs; a SIGINT observed
// here is reported as "no line available" rather than looping the select
// a second time, since `:add`'s own caller already holds the dispatch
// loop's attention.
func nextLineFunc(lines <-chan lineResult, sigCh <-chan os.Signal) func() (string, bool) {
	return func() (string, bool) {
		select {
		case r, open := <-lines:
			return r.text, open
		case <-sigCh:
			return "", false
		}
	}
}
