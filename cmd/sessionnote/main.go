package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/pipeline"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"
)

const defaultContentType = "application/octet-stream"

var extTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
}

// console writes coloured status lines, keeping stdout for the result.
type console struct {
	w io.Writer
}

func (c console) info(msg string, a ...any) {
	fmt.Fprintf(c.w, colorBlue+"[info] "+colorReset+msg+"\n", a...)
}

func (c console) warn(msg string, a ...any) {
	fmt.Fprintf(c.w, colorYellow+"[warn] "+colorReset+msg+"\n", a...)
}

func (c console) ok(msg string, a ...any) {
	fmt.Fprintf(c.w, colorGreen+"[ok] "+colorReset+msg+"\n", a...)
}

func (c console) fail(msg string, a ...any) {
	fmt.Fprintf(c.w, colorRed+"[error] "+colorReset+msg+"\n", a...)
}

// contentTypeFor guesses the audio type from the file extension. The second
// result is false when the extension is unknown.
func contentTypeFor(path string) (string, bool) {
	if t, ok := extTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t, true
	}
	return defaultContentType, false
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one session and returns the process exit code: 0 on success,
// 1 when the run fails, 2 on usage or configuration errors.
func run(args []string, stdout, stderr io.Writer) int {
	out := console{w: stderr}

	var (
		inPath      string
		contentType string
		outPath     string
		provider    string
	)

	fs := flag.NewFlagSet("sessionnote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inPath, "in", "", "Recorded session audio file")
	fs.StringVar(&contentType, "type", "", "Audio content type (default guessed from the file extension)")
	fs.StringVar(&outPath, "out", "", "Write the generated note to this file")
	fs.StringVar(&provider, "provider", "", "Note generator override: lemur|groq")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if inPath == "" {
		out.fail("missing -in audio path")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		out.fail("config: %v", err)
		return 2
	}
	if provider != "" {
		cfg.Generation.Provider = strings.ToLower(provider)
		if err := cfg.Validate(); err != nil {
			out.fail("config: %v", err)
			return 2
		}
	}

	data, err := os.ReadFile(inPath)
	if err != nil {
		out.fail("read audio: %v", err)
		return 1
	}
	if contentType == "" {
		var known bool
		contentType, known = contentTypeFor(inPath)
		if !known {
			out.warn("unknown extension %q, sending as %s", filepath.Ext(inPath), contentType)
		}
	}

	speechClient := client.NewAssemblyAIClient(&cfg.Speech)
	if !speechClient.IsConfigured() {
		out.warn("ASSEMBLYAI_API_KEY is not set")
	}
	var generator pipeline.NoteGenerator = speechClient
	if cfg.Generation.Provider == config.ProviderGroq {
		generator = client.NewGroqClient(&cfg.Groq)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := pipeline.OptionsFromConfig(cfg)
	budget := time.Duration(opts.MaxPollAttempts+1)*opts.PollInterval + 5*time.Minute
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out.info("Processing %s (%d bytes, %s)", inPath, len(data), contentType)
	result, err := pipeline.New(speechClient, generator, opts).Run(ctx, model.AudioPayload{
		Data:        data,
		ContentType: contentType,
	}, func(p pipeline.Progress) {
		out.info("%3d%% %s", p.Percent, p.Step)
	})
	if err != nil {
		out.fail("%v", err)
		return 1
	}
	out.ok("Transcript %s ready after %d polls", result.TranscriptID, result.PollAttempts)

	fmt.Fprintln(stdout, "## Transcript")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, result.RenderedTranscript)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "## Note")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, result.Note)

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(result.Note+"\n"), 0o644); err != nil {
			out.fail("write note: %v", err)
			return 1
		}
		out.ok("Note written to %s", outPath)
	}
	return 0
}
