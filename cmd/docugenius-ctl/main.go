package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/docqa"
	flag "github.com/spf13/pflag"
)

var version = "0.1.0-dev"

const usage = "expected 'validate', 'health', 'upload', 'ask' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	var configPath string
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "docugenius.yaml", "Path to configuration file")

	switch cmd {
	case "validate":
		if err := fs.Parse(args); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		fmt.Fprintln(out, "config valid")
		return nil
	case "health":
		if err := fs.Parse(args); err != nil {
			return err
		}
		client, err := newClient(fs, configPath)
		if err != nil {
			return err
		}
		if err := client.Health(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "backend healthy")
		return nil
	case "upload":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("upload: expected at least one file")
		}
		client, err := newClient(fs, configPath)
		if err != nil {
			return err
		}
		return upload(ctx, client, fs.Args(), out)
	case "ask":
		var docs []string
		fs.StringSliceVarP(&docs, "doc", "d", nil, "Documents to upload before asking")
		if err := fs.Parse(args); err != nil {
			return err
		}
		question := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if question == "" || len(docs) == 0 {
			return fmt.Errorf("ask: usage: docugenius-ctl ask --doc file.pdf <question>")
		}
		client, err := newClient(fs, configPath)
		if err != nil {
			return err
		}
		return ask(ctx, client, docs, question, out)
	case "version":
		fmt.Fprintln(out, version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
}

// newClient loads the config when the file exists or was named explicitly,
// otherwise it uses defaults with environment overrides.
func newClient(fs *flag.FlagSet, configPath string) (*docqa.Client, error) {
	if _, err := os.Stat(configPath); err != nil && !fs.Changed("config") {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return docqa.NewClient(cfg.DocQA, nil), nil
}

func upload(ctx context.Context, client *docqa.Client, paths []string, out io.Writer) error {
	resp, err := processFiles(ctx, client, paths, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s of text extracted)\n", resp.Message, humanize.Comma(int64(len(resp.DocumentText))))
	return nil
}

func ask(ctx context.Context, client *docqa.Client, paths []string, question string, out io.Writer) error {
	resp, err := processFiles(ctx, client, paths, out)
	if err != nil {
		return err
	}
	answer, err := client.AskQuestion(ctx, question, resp.DocumentText, nil)
	if err != nil {
		return err
	}
	if !answer.Success {
		return fmt.Errorf("backend could not answer: %s", answer.Answer)
	}
	fmt.Fprintln(out, answer.Answer)
	return nil
}

func processFiles(ctx context.Context, client *docqa.Client, paths []string, out io.Writer) (docqa.ProcessResponse, error) {
	docs, closeAll, err := docqa.OpenFiles(paths)
	if err != nil {
		return docqa.ProcessResponse{}, err
	}
	defer closeAll()
	for _, doc := range docs {
		fmt.Fprintf(out, "uploading %s (%s)\n", doc.Name, humanize.Bytes(uint64(doc.Size)))
	}
	resp, err := client.ProcessDocuments(ctx, docs)
	if err != nil {
		return docqa.ProcessResponse{}, err
	}
	if !resp.Success {
		return docqa.ProcessResponse{}, fmt.Errorf("backend rejected documents: %s", resp.Message)
	}
	return resp, nil
}
