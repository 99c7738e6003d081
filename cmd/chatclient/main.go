package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/linechat/chatclient"
	"github.com/cyberinferno/linechat/protocol"
)

var (
	address string
	name    string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Interactive client for the line chat server",
	Long: `Chatclient connects to a line chat server, sends every line typed on
stdin as a command and prints the server replies.

Commands are sent as typed:

  LOGIN <name>
  MSG <text>
  WHO
  DM <name> <text>
  PING`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&address, "addr", "localhost:4000", "Chat server address (host:port)")
	rootCmd.Flags().StringVar(&name, "name", "", "Log in with this name after connecting")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Print replies without colours")
}

var replyColors = map[protocol.ReplyKind]color.Color{
	protocol.ReplyKindOK:     color.FgGreen,
	protocol.ReplyKindErr:    color.FgRed,
	protocol.ReplyKindInfo:   color.FgYellow,
	protocol.ReplyKindUser:   color.FgCyan,
	protocol.ReplyKindDM:     color.FgMagenta,
	protocol.ReplyKindDMSent: color.FgMagenta,
	protocol.ReplyKindPong:   color.FgBlue,
}

func render(reply protocol.Reply) string {
	c, ok := replyColors[reply.Kind]
	if noColor || !ok {
		return reply.Line
	}

	return c.Render(reply.Line)
}

func runClient(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(chatclient.DefaultConfig(address))

	gone := make(chan struct{})
	var goneOnce sync.Once
	client.OnLine(func(event chatclient.LineEvent) {
		fmt.Fprintln(out, render(event.Reply))
	})
	client.OnState(func(event chatclient.StateEvent) {
		if event.State == chatclient.Disconnected {
			goneOnce.Do(func() { close(gone) })
		}
	})
	client.OnError(func(event chatclient.ErrorEvent) {
		fmt.Fprintf(errOut, "error: %v\n", event.Error)
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	defer func() { _ = client.Close() }()

	if name != "" {
		if err := client.Login(name); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			fmt.Fprintln(errOut, "connection closed by server")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			if strings.TrimSpace(line) == "" {
				continue
			}

			if err := client.SendLine(line); err != nil {
				return err
			}
		}
	}
}
