package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/brunakemp/juschat/internal/ctl"
	"github.com/brunakemp/juschat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login":
		cmdLogin(ctx, c)
	case "logout":
		must(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "conversations":
		cmdConversations(ctx, c, args[1:], *jsonFlag)
	case "messages":
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "send":
		cmdSend(ctx, c, args[1:])
	case "retry":
		if len(args) < 2 {
			fatal("usage: juschatctl retry <client-msg-id>")
		}
		must(c.Retry(ctx, args[1]))
		fmt.Println("Retry queued.")
	case "search":
		cmdSearch(ctx, c, args[1:], *jsonFlag)
	case "refresh":
		must(c.Refresh(ctx))
		fmt.Println("Refreshed.")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: juschatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  login                           Authenticate against the backend")
	fmt.Fprintln(os.Stderr, "  logout                          Discard credentials")
	fmt.Fprintln(os.Stderr, "  conversations list              List conversations")
	fmt.Fprintln(os.Stderr, "  conversations open <participant> Open or create a conversation")
	fmt.Fprintln(os.Stderr, "  conversations read <id>         Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  conversations archive <id>      Archive a conversation")
	fmt.Fprintln(os.Stderr, "  conversations rm <id>           Delete a conversation")
	fmt.Fprintln(os.Stderr, "  messages <conversation>         List messages")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>      Send a text message")
	fmt.Fprintln(os.Stderr, "  send <conversation> --file <path> [text]  Send a file")
	fmt.Fprintln(os.Stderr, "  retry <client-msg-id>           Retry a failed send")
	fmt.Fprintln(os.Stderr, "  search <query>                  Full-text message search")
	fmt.Fprintln(os.Stderr, "  refresh                         Force a sync pass")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	must(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:       %s\n", resp.Session)
	fmt.Printf("State:         %s\n", resp.State)
	if resp.User != nil {
		fmt.Printf("User:          %s (%s)\n", resp.User.Name, resp.User.Role)
	}
	fmt.Printf("Conversations: %d\n", resp.Conversations)
	fmt.Printf("Messages:      %d\n", resp.Messages)
	if resp.ActivePoll != "" {
		fmt.Printf("Polling:       %s\n", resp.ActivePoll)
	}
}

func cmdLogin(ctx context.Context, c *ctl.Client) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, err := reader.ReadString('\n')
	must(err)

	fmt.Print("Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	must(err)

	user, err := c.Login(ctx, strings.TrimSpace(email), string(pass))
	must(err)
	fmt.Printf("Logged in as %s (%s).\n", user.Name, user.Role)
}

func cmdConversations(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		convs, err := c.Conversations(ctx)
		must(err)
		if jsonOut {
			outputJSON(convs)
			return
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, conv := range convs {
			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
			}
			fmt.Printf("%s  %s%s\n    %s\n", conv.ID, conv.ParticipantName, unread, conv.LastMessagePreview)
		}
	case "open":
		if len(args) < 2 {
			fatal("usage: juschatctl conversations open <participant-id>")
		}
		conv, err := c.CreateConversation(ctx, args[1])
		must(err)
		if jsonOut {
			outputJSON(conv)
			return
		}
		fmt.Printf("Conversation %s with %s.\n", conv.ID, conv.ParticipantName)
	case "read":
		if len(args) < 2 {
			fatal("usage: juschatctl conversations read <id>")
		}
		must(c.MarkRead(ctx, args[1]))
		fmt.Println("Marked read.")
	case "archive":
		if len(args) < 2 {
			fatal("usage: juschatctl conversations archive <id>")
		}
		must(c.Archive(ctx, args[1]))
		fmt.Println("Archived.")
	case "rm":
		if len(args) < 2 {
			fatal("usage: juschatctl conversations rm <id>")
		}
		must(c.RemoveConversation(ctx, args[1]))
		fmt.Println("Removed.")
	default:
		fatal("usage: juschatctl conversations <list|open|read|archive|rm>")
	}
}

func cmdMessages(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fatal("usage: juschatctl messages <conversation-id>")
	}
	msgs, err := c.Messages(ctx, args[0], 0)
	must(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAt).Local().Format("2006-01-02 15:04")
		who := m.SenderName
		if m.FromMe {
			who = "me"
		}
		marker := ""
		if m.Pending {
			marker = " [sending]"
		}
		if m.Status == "failed" {
			marker = " [failed: " + m.MsgID + "]"
		}
		body := m.Body
		for _, a := range m.Attachments {
			body += fmt.Sprintf(" [file: %s]", a.Name)
		}
		fmt.Printf("%s  %s: %s%s\n", ts, who, body, marker)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 2 {
		fatal("usage: juschatctl send <conversation-id> <text> | send <conversation-id> --file <path> [text]")
	}
	convID := args[0]

	var clientID string
	var err error
	if args[1] == "--file" {
		if len(args) < 3 {
			fatal("usage: juschatctl send <conversation-id> --file <path> [text]")
		}
		text := strings.Join(args[3:], " ")
		clientID, err = c.SendFile(ctx, convID, text, args[2])
	} else {
		clientID, err = c.Send(ctx, convID, strings.Join(args[1:], " "))
	}
	must(err)
	fmt.Printf("Queued %s.\n", clientID)
}

func cmdSearch(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fatal("usage: juschatctl search <query>")
	}
	results, err := c.Search(ctx, strings.Join(args, " "), "")
	must(err)
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		fmt.Printf("%s  %s: %s\n", r.Message.ConversationID, r.Message.SenderName, r.Snippet)
	}
}
