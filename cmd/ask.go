package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/config"
	"github.com/akashicode/docuquery/internal/display"
	"github.com/akashicode/docuquery/internal/llm"
	"github.com/akashicode/docuquery/internal/reader"
	"github.com/akashicode/docuquery/internal/session"
)

var askEndpoint string

var askCmd = &cobra.Command{
	Use:   "ask <file.pdf> [question...]",
	Short: "Ask questions about a PDF",
	Long: `Loads a PDF, extracts its text and answers questions about it.

With a question argument, answers it and exits. Otherwise reads questions
from stdin, one per line. Interactive commands:
  :history       print the conversation so far
  :reset         discard the document and conversation
  :load <file>   load another PDF
  :quit          exit

By default the configured provider is called directly. With --endpoint the
questions go to a running 'docuquery serve' instead, e.g.
  --endpoint http://localhost:8000/api/chat`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askEndpoint, "endpoint", "", "URL of a remote /api/chat endpoint")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	remote, err := newRemote(ctx, cfg)
	if err != nil {
		return err
	}

	ctrl := session.New(
		reader.NewExtractor(reader.PDFOpener),
		answer.NewService(remote, answer.WithLogger(log)),
		session.WithLogger(log),
		session.WithOnChange(progress),
	)

	if err := loadDocument(ctx, ctrl, args[0], cfg.Server.MaxUploadBytes); err != nil {
		return err
	}

	if len(args) > 1 {
		return ask(ctx, ctrl, strings.Join(args[1:], " "))
	}
	return repl(ctx, ctrl, cmd.InOrStdin(), cfg.Server.MaxUploadBytes, log)
}

func newRemote(ctx context.Context, cfg *config.Config) (answer.Remote, error) {
	if askEndpoint != "" {
		return answer.NewHTTPRemote(askEndpoint, nil), nil
	}
	c, err := llm.NewCompleter(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.LLM.Provider, err)
	}
	return answer.LocalRemote{Completer: c}, nil
}

func progress(s session.Snapshot) {
	switch s.State {
	case session.Extracting:
		display.Step(1, 2, "Extracting text from "+s.DocumentName+"...")
	case session.Answering:
		display.StepDetail("thinking...")
	}
}

func loadDocument(ctx context.Context, ctrl *session.Controller, path string, maxBytes int64) error {
	file, err := reader.LoadFile(path, maxBytes)
	if err != nil {
		return err
	}
	if err := ctrl.Upload(ctx, file.Name, file.Data); err != nil {
		return err
	}

	snap := ctrl.Snapshot()
	if snap.State == session.ErrorState {
		display.ErrorMsg(snap.Error)
		return errors.New("document could not be processed")
	}
	display.Step(2, 2, "Ready")
	display.StepResult("characters", snap.TextLength)
	return nil
}

func ask(ctx context.Context, ctrl *session.Controller, question string) error {
	h, err := ctrl.Ask(ctx, question)
	if err != nil {
		return err
	}
	ex, err := ctrl.Exchange(h)
	if err != nil {
		return err
	}
	display.Exchange(h.Index()+1, ex.Question, ex.Answer, ex.IsError)
	return nil
}

func repl(ctx context.Context, ctrl *session.Controller, in io.Reader, maxBytes int64, log zerolog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	display.Info("Type a question, or :help for commands.")
	for {
		label := "ask"
		if !ctrl.Snapshot().CanAsk() {
			label = "load"
		}
		display.Prompt(label)
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":help":
			display.SubHeader("Commands")
			display.KeyValue(":history", "print the conversation", display.White)
			display.KeyValue(":reset", "discard the document and conversation", display.White)
			display.KeyValue(":load <file>", "load another PDF", display.White)
			display.KeyValue(":quit", "exit", display.White)
		case line == ":history":
			exchanges := ctrl.Snapshot().Exchanges
			if len(exchanges) == 0 {
				display.Info("No questions yet.")
			}
			for i, ex := range exchanges {
				display.Exchange(i+1, ex.Question, ex.Answer, ex.IsError)
			}
		case line == ":reset":
			ctrl.Reset()
			display.Success("Session reset. Use :load <file> to continue.")
		case strings.HasPrefix(line, ":load "):
			if err := loadDocument(ctx, ctrl, strings.TrimSpace(strings.TrimPrefix(line, ":load ")), maxBytes); err != nil {
				display.ErrorMsg(err.Error())
			}
		case strings.HasPrefix(line, ":"):
			display.Warn("Unknown command " + line)
		default:
			if err := ask(ctx, ctrl, line); err != nil {
				log.Debug().Err(err).Msg("question rejected")
				display.Warn(rejection(err))
			}
		}
	}
}

func rejection(err error) string {
	switch {
	case errors.Is(err, session.ErrNotReady):
		return "No document loaded. Use :load <file>."
	case errors.Is(err, session.ErrQuestionPending):
		return "Still answering the previous question."
	default:
		return err.Error()
	}
}
