package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/docugenius/internal/chat"
	"github.com/loqalabs/docugenius/internal/docqa"
	"github.com/loqalabs/docugenius/internal/runtime"
	"github.com/loqalabs/docugenius/internal/voice"
)

const consoleHelp = `commands:
  /upload <file>...   upload documents
  /listen             toggle listening
  /speak              replay or stop the last answer
  /clear              clear the chat
  /state              show voice state
  /quit               exit
anything else is asked as a question`

type uploader interface {
	Upload(ctx context.Context, docs []docqa.Document) (chat.Summary, error)
}

func uploadFiles(ctx context.Context, session uploader, paths []string, out io.Writer) error {
	docs, closeAll, err := docqa.OpenFiles(paths)
	if err != nil {
		return err
	}
	defer closeAll()

	var total int64
	for _, doc := range docs {
		total += doc.Size
		fmt.Fprintf(out, "uploading %s (%s)\n", doc.Name, humanize.Bytes(uint64(doc.Size)))
	}
	summary, err := session.Upload(ctx, docs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "uploaded %d file(s), %s\n", len(summary.Files), humanize.Bytes(uint64(total)))
	fmt.Fprintf(out, "assistant: %s\n", summary.Welcome.Content)
	return nil
}

func runConsole(ctx context.Context, rt *runtime.Runtime, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, consoleHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return
		case "/help":
			fmt.Fprintln(out, consoleHelp)
		case "/upload":
			if err := uploadFiles(ctx, rt.Chat(), fields[1:], out); err != nil {
				fmt.Fprintf(out, "error: %s\n", userMessage(err))
			}
		case "/listen":
			rt.Router().ToggleListening()
		case "/speak":
			rt.Router().ToggleSpeaking()
		case "/clear":
			rt.Chat().Clear()
			fmt.Fprintln(out, "chat cleared")
		case "/state":
			fmt.Fprintln(out, describeState(rt.Assistant().State(), rt.Chat().HasDocument()))
		default:
			answer, err := rt.Chat().Ask(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error: %s\n", userMessage(err))
				continue
			}
			fmt.Fprintf(out, "assistant: %s\n", answer.Content)
		}
	}
}

func userMessage(err error) string {
	var backendErr *chat.BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Message
	}
	return err.Error()
}

func describeState(state voice.State, hasDocument bool) string {
	return fmt.Sprintf("supported=%t listening=%t speaking=%t transcript=%q document=%t",
		state.Supported, state.Listening, state.Speaking, state.Transcript, hasDocument)
}
