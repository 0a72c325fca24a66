package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/riseup-agent/internal/adapters/terminal"
	"github.com/PabloGalante/riseup-agent/internal/app/conversation"
	"github.com/PabloGalante/riseup-agent/internal/app/delivery"
	"github.com/PabloGalante/riseup-agent/internal/domain"
)

const chatHelp = "Type a message and press enter. /clear wipes the conversation, /quit leaves."

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logs would tear the live region, so they go to stderr only when asked for
	logOut := io.Discard
	if logLevel != "" {
		logOut = os.Stderr
	}
	cfg, logger, err := loadConfig(logOut)
	if err != nil {
		return err
	}

	transport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	out := cmd.OutOrStdout()
	renderer := terminal.NewRenderer(out)
	bell := terminal.NewBell(out, cfg.SoundEffects)
	surface := func(domain.SessionID) conversation.Surface {
		return conversation.Surface{Renderer: renderer, Notifier: bell}
	}

	svc := buildService(cfg, transport, store, surface)
	defer svc.Close()

	sessionID, err := openSession(ctx, cmd, svc, renderer)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, svc, sessionID, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(out, err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, svc *conversation.Service, sessionID domain.SessionID, line string) error {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return errQuit
	case "/clear":
		return svc.ClearHistory(ctx, sessionID)
	}

	done, err := svc.Submit(ctx, conversation.SubmitInput{SessionID: sessionID, Text: line})
	switch {
	case errors.Is(err, delivery.ErrEmptyInput):
		return nil
	case err != nil:
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// openSession starts a new session, or replays an existing one when
// --session is given.
func openSession(ctx context.Context, cmd *cobra.Command, svc *conversation.Service, renderer *terminal.Renderer) (domain.SessionID, error) {
	resume, _ := cmd.Flags().GetString("session")
	user, _ := cmd.Flags().GetString("user")

	if resume == "" {
		out, err := svc.StartSession(ctx, conversation.StartSessionInput{UserID: domain.UserID(user), Title: "Terminal chat"})
		if err != nil {
			return "", err
		}
		return out.Session.ID, nil
	}

	_, turns, err := svc.Timeline(ctx, domain.SessionID(resume))
	if err != nil {
		return "", fmt.Errorf("resuming session %s: %w", resume, err)
	}
	for _, t := range turns {
		renderer.CommitTurn(t)
	}
	return domain.SessionID(resume), nil
}
