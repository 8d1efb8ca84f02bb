// Command transport-cli is a demonstration host for the transport core:
// it opens a real MIDI output, loads a fixed demo pattern, and drives a
// transport.Transport from an interactive REPL or a batch script.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/orchestra"
	"github.com/iltempo/transportcore/transport"
)

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func processBatchInput(reader io.Reader, h *handler) (success, shouldExit bool) {
	scanner := bufio.NewScanner(reader)
	success = true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			if line != "" {
				fmt.Println(line)
			}
			continue
		}
		if verb := strings.ToLower(line); verb == "exit" || verb == "quit" {
			shouldExit = true
			continue
		}
		fmt.Println(">", line)
		if err := h.ProcessCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			success = false
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return false, shouldExit
	}
	return success, shouldExit
}

func main() {
	scriptFile := flag.String("script", "", "execute commands from file")
	flag.Parse()

	ports := listPorts()
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "No MIDI output ports found")
		os.Exit(1)
	}

	fmt.Println("Available MIDI ports:")
	for i, port := range ports {
		fmt.Printf("  %d: %s\n", i, port)
	}

	inBatchMode := *scriptFile != "" || !isTerminal()
	portIndex := 0
	if len(ports) > 1 && !inBatchMode {
		fmt.Print("\n")
		rl, err := readline.New(fmt.Sprintf("Select MIDI port (0-%d): ", len(ports)-1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating readline: %v\n", err)
			os.Exit(1)
		}
		input, err := rl.Readline()
		rl.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}
		portIndex, err = strconv.Atoi(strings.TrimSpace(input))
		if err != nil || portIndex < 0 || portIndex >= len(ports) {
			fmt.Fprintf(os.Stderr, "Invalid port selection: %s\n", input)
			os.Exit(1)
		}
	}
	fmt.Printf("Using port %d: %s\n\n", portIndex, ports[portIndex])

	inst, err := openLiveInstrument(ports[portIndex], portIndex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening MIDI port: %v\n", err)
		os.Exit(1)
	}
	defer inst.Close()

	orch := orchestra.New()
	orch.Add(inst)

	tr := transport.New(orch)
	defer tr.Close()
	tr.SetTracks([]cache.Track{newDemoTrack(inst.ID())}, 0, DefaultPatternBeats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		tr.StopSound("")
		inst.Close()
		os.Exit(0)
	}()

	h := newHandler(tr)
	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	fmt.Println()

	if *scriptFile != "" {
		f, err := os.Open(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening script file: %v\n", err)
			os.Exit(2)
		}
		success, shouldExit := processBatchInput(f, h)
		f.Close()
		if shouldExit {
			tr.StopSound("")
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nScript completed. Press Ctrl+C to exit.")
		select {}
	}

	if isTerminal() {
		runInteractive(h)
		return
	}

	processBatchInput(os.Stdin, h)
}

func runInteractive(h *handler) {
	rl, err := readline.New("transport> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if verb := strings.ToLower(line); verb == "exit" || verb == "quit" {
			return
		}
		if err := h.ProcessCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}
