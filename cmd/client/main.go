// Command guftagu is a terminal client for the GuftaGu relay. It covers the
// full surface: creating groups, joining as a character, live chat with
// replies and file attachments, and desktop notifications.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/owesh74/Guftagu/client"
	"github.com/owesh74/Guftagu/internal/model"
)

func main() {
	root := &cobra.Command{
		Use:           "guftagu",
		Short:         "Anonymous character chat over a GuftaGu relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", "http://localhost:3000", "relay base URL")
	_ = viper.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	viper.SetEnvPrefix("guftagu")
	_ = viper.BindEnv("server")

	root.AddCommand(newCreateCmd(), newJoinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCreateCmd() *cobra.Command {
	var character, pin string
	cmd := &cobra.Command{
		Use:   "create <group>",
		Short: "Create a new group, optionally registering your character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(viper.GetString("server"))
			if err := c.CreateGroup(cmd.Context(), args[0], character, pin); err != nil {
				return err
			}
			fmt.Printf("group %q created\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&character, "name", "", "character name to register")
	cmd.Flags().StringVar(&pin, "pin", "", "PIN for the character")
	return cmd
}

func newJoinCmd() *cobra.Command {
	var name, pin string
	var isNew, notify bool
	cmd := &cobra.Command{
		Use:   "join <group>",
		Short: "Join a group as a character and chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(viper.GetString("server"))
			session, err := c.Join(cmd.Context(), args[0], name, pin, isNew)
			if err != nil {
				return err
			}
			var notifier client.Notifier
			if notify {
				notifier = client.DesktopNotifier{}
			}
			return chat(cmd.Context(), c, session, notifier)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "character name")
	cmd.Flags().StringVar(&pin, "pin", "", "character PIN")
	cmd.Flags().BoolVar(&isNew, "new", false, "register a new character instead of resuming one")
	cmd.Flags().BoolVar(&notify, "notify", false, "show desktop notifications for incoming messages")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

// chat runs the interactive loop: snapshot history first, then live
// broadcasts interleaved with stdin input.
func chat(ctx context.Context, c *client.Client, session client.Session, notifier client.Notifier) error {
	conn, err := c.Dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	view := client.NewRoomView(session.Group, c, conn)

	// lastFrom tracks the most recent message from someone else, the
	// target of /reply.
	var mu sync.Mutex
	var lastFrom *model.Message

	view.Observe(func(m model.Message) {
		printMessage(m, session.Character)
		if m.Sender != session.Character {
			mu.Lock()
			lastFrom = &m
			mu.Unlock()
		}
		client.NotifyIfNeeded(notifier, m, session.Character, false)
	})

	if err := view.Enter(ctx); err != nil {
		return err
	}
	defer view.Leave()

	for _, m := range view.Messages() {
		printMessage(m, session.Character)
		if m.Sender != session.Character {
			m := m
			mu.Lock()
			lastFrom = &m
			mu.Unlock()
		}
	}
	fmt.Printf("-- joined %q as %q; /reply, /send <path>, /quit --\n", session.Group, session.Character)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/reply "):
			mu.Lock()
			target := lastFrom
			mu.Unlock()
			if target == nil {
				fmt.Println("-- nothing to reply to yet --")
				continue
			}
			reply := model.NewReplySnapshot(*target)
			text := strings.TrimSpace(strings.TrimPrefix(line, "/reply "))
			if err := conn.Publish(session.Group, session.Character, text, nil, &reply); err != nil {
				fmt.Fprintln(os.Stderr, "publish failed:", err)
			}
		case strings.HasPrefix(line, "/send "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/send "))
			if err := sendFile(ctx, c, conn, session, path); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
		default:
			if err := conn.Publish(session.Group, session.Character, line, nil, nil); err != nil {
				fmt.Fprintln(os.Stderr, "publish failed:", err)
			}
		}
	}
	return scanner.Err()
}

func sendFile(ctx context.Context, c *client.Client, conn *client.Conn, session client.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	att, err := c.Upload(uploadCtx, filepath.Base(path), data)
	if err != nil {
		return err
	}
	return conn.Publish(session.Group, session.Character, "", &att, nil)
}

func printMessage(m model.Message, self string) {
	sender := m.Sender
	if sender == self {
		sender = "you"
	}
	ts := m.CreatedAt.Local().Format("15:04")
	prefix := fmt.Sprintf("[%s] %s", ts, sender)
	if m.ReplyTo != nil {
		fmt.Printf("%s (replying to %s: %s):\n", prefix, m.ReplyTo.Sender, m.ReplyTo.Text)
	} else {
		fmt.Printf("%s:\n", prefix)
	}
	if m.File != nil {
		fmt.Printf("  [file] %s %s\n", m.File.Name, m.File.URL)
	}
	if m.Text != "" {
		fmt.Printf("  %s\n", m.Text)
	}
}
