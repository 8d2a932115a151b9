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
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Companion/models"
	"Companion/pkg/client"
)

var (
	serverURL  string
	token      string
	mood       string
	sessionID  string
	maxRetries int
	timeout    time.Duration

	you   = color.New(color.FgGreen, color.Bold).SprintFunc()
	bot   = color.New(color.FgCyan, color.Bold).SprintFunc()
	dim   = color.New(color.Faint).SprintFunc()
	warn  = color.New(color.FgYellow).SprintFunc()
	badge = map[models.Mood]*color.Color{
		models.MoodHappy:    color.New(color.FgHiGreen),
		models.MoodSad:      color.New(color.FgBlue),
		models.MoodAnxious:  color.New(color.FgMagenta),
		models.MoodStressed: color.New(color.FgRed),
		models.MoodAngry:    color.New(color.FgHiRed),
		models.MoodNeutral:  color.New(color.FgWhite),
	}
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal chat with the companion backend",
	Long: `Opens a chat session (or resumes one with --session) and sends each line
you type as one turn. Commands: /history prints the transcript, /quit exits.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", envOr("COMPANION_URL", "http://localhost:5000"), "Backend base URL")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("COMPANION_TOKEN"), "Bearer token (or set COMPANION_TOKEN)")
	rootCmd.Flags().StringVar(&mood, "mood", string(models.MoodNeutral), "Starting mood for a new session")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session")
	rootCmd.Flags().IntVar(&maxRetries, "retries", 3, "Attempts per turn on temporary errors")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Per request timeout")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(serverURL, token, nil)
	out := cmd.OutOrStdout()

	var session client.Session
	var err error
	if sessionID != "" {
		session, err = c.GetSession(ctx, sessionID)
	} else {
		session, err = c.CreateSession(ctx, models.Mood(mood))
	}
	if err != nil {
		return explain(err)
	}

	fmt.Fprintf(out, "%s %s\n", bot("Companion"), dim("session "+session.ID))
	fmt.Fprintln(out, dim("Type a message and press Enter. /history shows the transcript, /quit exits."))
	for _, m := range session.Messages {
		printMessage(out, m)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, you("You: "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			s, err := c.GetSession(ctx, session.ID)
			if err != nil {
				fmt.Fprintln(out, warn(explain(err).Error()))
				continue
			}
			for _, m := range s.Messages {
				printMessage(out, m)
			}
			continue
		}

		turn, err := sendTurn(ctx, c, session.ID, line)
		if errors.Is(err, client.ErrUnauthorized) {
			return explain(err)
		}
		if err != nil {
			fmt.Fprintln(out, warn(explain(err).Error()))
			continue
		}
		if a := turn.UserMessage.Mood; a != nil {
			fmt.Fprintf(out, "%s\n", moodBadge(*a))
		}
		fmt.Fprintf(out, "%s %s\n\n", bot("Companion:"), turn.BotMessage.Content)
	}
}

// sendTurn retries temporary failures with the same idempotency key so the
// server stores the turn at most once.
func sendTurn(ctx context.Context, c *client.Client, id, text string) (client.Turn, error) {
	key := client.NewIdempotencyKey()
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		var turn client.Turn
		turn, err = c.SendMessage(reqCtx, id, text, key)
		cancel()
		if err == nil || !errors.Is(err, client.ErrRetryable) {
			return turn, err
		}
		select {
		case <-ctx.Done():
			return client.Turn{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return client.Turn{}, err
}

func printMessage(w io.Writer, m client.Message) {
	ts := m.Timestamp.Local().Format("15:04")
	if m.Sender == models.SenderUser {
		line := fmt.Sprintf("%s %s %s", dim(ts), you("You:"), m.Content)
		if m.Mood != nil {
			line += " " + moodBadge(*m.Mood)
		}
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", dim(ts), bot("Companion:"), m.Content)
}

func moodBadge(a models.Assessment) string {
	c, ok := badge[a.Label]
	if !ok {
		c = badge[models.MoodNeutral]
	}
	return c.Sprintf("[%s %.0f%%]", a.Label, a.Score*100)
}

func explain(err error) error {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return errors.New("session expired, please sign in again")
	case errors.Is(err, client.ErrNotFound):
		return errors.New("that chat session no longer exists")
	case errors.Is(err, client.ErrRetryable):
		return fmt.Errorf("the companion is unavailable right now, try again shortly (%v)", err)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
