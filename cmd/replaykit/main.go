// cmd/replaykit/main.go
//
// Entry point for the replaykit CLI. Everything operates on the .replaykit/
// directory of the current project:
//
//	replaykit record    import a raw capture into a new session and detect
//	replaykit interview answer the annotation questions for a session
//	replaykit compile   synthesize the final script from a finalized session
//	replaykit replay    run a compiled script against the device
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/replaykit/replaykit/internal/compiler"
	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/device"
	"github.com/replaykit/replaykit/internal/frames"
	"github.com/replaykit/replaykit/internal/logging"
	"github.com/replaykit/replaykit/internal/oracle"
	"github.com/replaykit/replaykit/internal/runner"
	"github.com/replaykit/replaykit/internal/script"
	"github.com/replaykit/replaykit/internal/session"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/tui"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	cwd, err := os.Getwd()
	if err != nil {
		die("determine working directory: %v", err)
	}
	if err := config.InitReplaykitDir(cwd); err != nil {
		die("init .replaykit: %v", err)
	}
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		die("load config: %v", err)
	}
	log, err := logging.New(cfg.LogsDir())
	if err != nil {
		die("open log: %v", err)
	}
	defer log.Close()

	switch cmd {
	case "record":
		runRecord(cfg, log, args)
	case "interview":
		runInterview(cfg, args)
	case "compile":
		runCompile(cfg, log, args)
	case "replay":
		runReplay(cfg, args)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replaykit <record|interview|compile|replay> [flags]")
	os.Exit(2)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// runRecord imports a raw on-device capture (touch log plus frame directory)
// into a fresh session and runs the detection pass over it.
func runRecord(cfg *config.Config, log *logging.Logger, args []string) {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	touches := fs.String("touches", "", "path to the captured touch log (JSONL)")
	framesDir := fs.String("frames", "", "directory of captured frame_<t_ms> images")
	elements := fs.String("elements", "", "optional accessibility snapshot file (YAML)")
	width := fs.Float64("width", 0, "screen width in pixels (asked from the device when omitted)")
	height := fs.Float64("height", 0, "screen height in pixels (asked from the device when omitted)")
	fs.Parse(args)

	if *touches == "" {
		die("record: --touches is required")
	}
	samples, err := touch.ReadLogFile(*touches)
	if err != nil {
		die("record: %v", err)
	}

	screen := touch.Screen{Width: *width, Height: *height}
	if !screen.Known() {
		screen = askDeviceForScreen(cfg)
	}

	s, err := session.Start(cfg, screen)
	if err != nil {
		die("record: %v", err)
	}
	if err := s.WriteTouchLog(samples); err != nil {
		die("record: %v", err)
	}
	if *framesDir != "" {
		if err := importFrames(*framesDir, s.FramesDir()); err != nil {
			die("record: %v", err)
		}
	}
	if *elements != "" {
		if err := importElements(*elements, s); err != nil {
			die("record: %v", err)
		}
	}

	res, err := compiler.New(cfg, log).Detect(s)
	if err != nil {
		if derr := s.Discard(); derr != nil {
			log.Printf("session %s: discard failed: %v", s.ID, derr)
			fmt.Fprintf(os.Stderr, "warning: could not discard session %s (the lock may be stale): %v\n", s.ID, derr)
		}
		die("record: %v", err)
	}
	if err := s.Finalize(); err != nil {
		die("record: %v", err)
	}

	fmt.Printf("Session %s recorded: %d events, %d typing candidates, %d checkpoint candidates.\n",
		s.ID, len(res.Events), len(res.Typing), len(res.Checkpoints))
	if len(res.Typing) > 0 || len(res.Checkpoints) > 0 {
		fmt.Printf("Next: replaykit interview --session %s\n", s.ID)
	} else {
		fmt.Printf("Next: replaykit compile --session %s\n", s.ID)
	}
}

// askDeviceForScreen asks the configured device server for its screen size.
// Recording can proceed without it, scripts just fall back to absolute
// pixels.
func askDeviceForScreen(cfg *config.Config) touch.Screen {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := device.Dial(ctx, cfg.Device())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: device unavailable (%v); pass --width and --height for portable scripts\n", err)
		return touch.Screen{}
	}
	defer client.Close()
	screen, err := client.ScreenSize(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: screen size unavailable: %v\n", err)
		return touch.Screen{}
	}
	return screen
}

func importFrames(src, dst string) error {
	ix, err := frames.LoadDir(src)
	if err != nil {
		return err
	}
	for _, frame := range ix.Frames() {
		data, err := os.ReadFile(frame.Path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, filepath.Base(frame.Path)), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func importElements(path string, s *session.Session) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshots []script.ElementSnapshot
	if err := yaml.Unmarshal(data, &snapshots); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return s.WriteElements(snapshots)
}

// runInterview opens the annotation TUI over a detected session.
func runInterview(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("interview", flag.ExitOnError)
	id := fs.String("session", "", "session id to annotate")
	fs.Parse(args)
	if *id == "" {
		die("interview: --session is required")
	}

	s, err := session.Open(cfg, *id)
	if err != nil {
		die("interview: %v", err)
	}
	sequences, err := s.ReadTypingCandidates()
	if err != nil {
		die("interview: run record first: %v", err)
	}
	candidates, err := s.ReadCheckpointCandidates()
	if err != nil {
		die("interview: %v", err)
	}
	if err := tui.Run(s, sequences, candidates); err != nil {
		die("interview: %v", err)
	}
	fmt.Printf("Annotations saved. Next: replaykit compile --session %s\n", *id)
}

// runCompile synthesizes the final script for an annotated session.
func runCompile(cfg *config.Config, log *logging.Logger, args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	id := fs.String("session", "", "session id to compile")
	fs.Parse(args)
	if *id == "" {
		die("compile: --session is required")
	}

	s, err := session.Open(cfg, *id)
	if err != nil {
		die("compile: %v", err)
	}
	out, path, err := compiler.New(cfg, log).Synthesize(s)
	if err != nil {
		die("compile: %v", err)
	}
	fmt.Printf("Compiled %d steps to %s\n", len(out.Steps), path)
}

// runReplay executes a compiled script against the configured device.
func runReplay(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	path := fs.String("script", "", "path to the compiled script")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall replay deadline")
	noVerify := fs.Bool("no-verify", false, "skip verify_screen oracle calls")
	fs.Parse(args)
	if *path == "" {
		die("replay: --script is required")
	}

	s, err := script.LoadFile(*path)
	if err != nil {
		die("replay: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := device.Dial(ctx, cfg.Device())
	if err != nil {
		die("replay: %v", err)
	}
	defer client.Close()

	opts := []runner.Option{}
	if *noVerify {
		opts = append(opts, runner.WithSkipVerify())
	} else {
		opts = append(opts, runner.WithVerifier(oracle.New(cfg.Oracle())))
	}
	report, err := runner.New(client, opts...).Run(ctx, s)
	printReport(report)
	if err != nil {
		die("replay: %v", err)
	}
	if !report.Passed() {
		os.Exit(1)
	}
}

func printReport(report runner.Report) {
	for _, res := range report.Results {
		line := fmt.Sprintf("step %d  %-14s", res.Index, res.Action)
		if res.Skipped {
			line += " SKIP"
		}
		if res.Verdict != nil {
			state := "PASS"
			if !res.Verdict.Pass {
				state = "FAIL"
			}
			line += fmt.Sprintf(" %s (%.2f) %s", state, res.Verdict.Confidence, res.Verdict.Reason)
		}
		fmt.Println(line)
	}
}
