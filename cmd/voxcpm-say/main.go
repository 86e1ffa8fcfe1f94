package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/loqalabs/loqa-voxcpm/internal/textfilter"
	"github.com/loqalabs/loqa-voxcpm/internal/voxcpm"
)

var version = "0.1.0-dev"

const usage = "expected 'filter', 'voices', 'speak' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "filter":
		err = runFilter(os.Args[2:], os.Stdin, os.Stdout)
	case "voices":
		err = runVoices(ctx, os.Args[2:], os.Stdout)
	case "speak":
		err = runSpeak(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// providerFlags are shared by the commands that talk to VoxCPM.
type providerFlags struct {
	configPath string
	endpoint   string
	verbose    bool
}

func (f *providerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.endpoint, "endpoint", "", "VoxCPM endpoint, overrides config")
	fs.BoolVar(&f.verbose, "v", false, "Log provider activity to stderr")
}

func (f *providerFlags) provider() (*voxcpm.Provider, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	pc := cfg.Provider
	if f.endpoint != "" {
		pc.Endpoint = f.endpoint
	}
	connector, err := voxcpm.ConnectorFromConfig(pc)
	if err != nil {
		return nil, err
	}
	level := slog.LevelError
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return voxcpm.New(voxcpm.SettingsFromConfig(pc), connector, logger), nil
}

func runFilter(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	var cfg textfilter.Config
	fs.BoolVar(&cfg.OnlyBracketed, "only-bracketed", false, "Keep only text inside 「」")
	fs.BoolVar(&cfg.StripEmphasis, "strip-emphasis", false, "Remove *emphasis* spans")
	fs.Parse(args)

	text, err := readText(fs.Args(), in)
	if err != nil {
		return err
	}
	for i, segment := range textfilter.Segment(textfilter.Apply(text, cfg)) {
		fmt.Fprintf(out, "%d\t%s\n", i, segment)
	}
	return nil
}

func runVoices(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	var pf providerFlags
	pf.register(fs)
	fs.Parse(args)

	p, err := pf.provider()
	if err != nil {
		return err
	}
	voices, err := p.RefreshVoices(ctx)
	if err != nil {
		return err
	}
	for _, v := range voices {
		fmt.Fprintln(out, v.Name)
	}
	return nil
}

func runSpeak(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	var (
		pf    providerFlags
		voice string
		raw   bool
	)
	pf.register(fs)
	fs.StringVar(&voice, "voice", voxcpm.DefaultVoiceName, "Voice name")
	fs.BoolVar(&raw, "raw", false, "Skip text filtering")
	fs.Parse(args)

	text, err := readText(fs.Args(), in)
	if err != nil {
		return err
	}
	p, err := pf.provider()
	if err != nil {
		return err
	}

	var res voxcpm.Result
	if raw {
		res, err = p.Synthesize(ctx, text, p.Voice(ctx, voice).VoiceID)
	} else {
		res, err = p.Speak(ctx, text, voice)
	}
	if err != nil {
		return err
	}
	if res.Empty() {
		return errors.New("nothing to speak")
	}

	// Print each reference as soon as it arrives so long texts start playing early.
	enc := json.NewEncoder(out)
	if res.Audio != nil {
		return enc.Encode(res.Audio)
	}
	for ref, err := range res.Stream.All(ctx) {
		if err != nil {
			return err
		}
		if err := enc.Encode(ref); err != nil {
			res.Stream.Close()
			return err
		}
	}
	return nil
}

func readText(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
