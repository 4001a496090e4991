package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/mpp/internal/api"
	"github.com/matheus3301/mpp/internal/lock"
	"github.com/matheus3301/mpp/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	groupFlag := flag.Bool("group", false, "send: the recipient is a group chat")
	limitFlag := flag.Int("limit", 0, "list size (0 = server default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Listing sessions only reads the filesystem.
	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	c, err := api.Dial(session.For(sessionName).Socket())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		resp, err := c.Status(ctx)
		out.print(resp, err, printStatus)
	case "start":
		resp, err := c.StartConnections(ctx)
		out.print(resp, err, func(s *structpb.Struct) {
			fmt.Printf("Starting %d account(s).\n", int(s.Fields["accounts"].GetNumberValue()))
		})
	case "stop":
		resp, err := c.StopConnections(ctx)
		out.print(resp, err, func(s *structpb.Struct) {
			failed := s.Fields["failed"].GetStructValue().GetFields()
			if len(failed) == 0 {
				fmt.Println("All connections stopped.")
				return
			}
			for acc, reason := range failed {
				fmt.Printf("%s: %s\n", acc, reason.GetStringValue())
			}
		})
	case "enable", "disable":
		need(args, 2, args[0]+" <account>")
		toggle := c.EnableAccount
		if args[0] == "disable" {
			toggle = c.DisableAccount
		}
		resp, err := toggle(ctx, args[1])
		out.print(resp, err, func(s *structpb.Struct) {
			fmt.Printf("Account %s %sd.\n", s.Fields["account"].GetStringValue(), args[0])
		})
	case "online", "offline":
		if err := c.SetOnline(ctx, args[0] == "online"); err != nil {
			fatal(err)
		}
		fmt.Printf("Network marked %s.\n", args[0])
	case "send":
		need(args, 4, "send <account> <to> <text...>")
		resp, err := c.SendMessage(ctx, args[1], args[2], strings.Join(args[3:], " "), *groupFlag)
		out.print(resp, err, func(s *structpb.Struct) {
			fmt.Printf("Sent %s\n", s.Fields["id"].GetStringValue())
		})
	case "chats":
		account := ""
		if len(args) > 1 {
			account = args[1]
		}
		resp, err := c.ListChats(ctx, account, *limitFlag)
		out.print(resp, err, printChats)
	case "messages":
		need(args, 2, "messages <chat> [after_seq]")
		var after int64
		if len(args) > 2 {
			if after, err = strconv.ParseInt(args[2], 10, 64); err != nil {
				fatal(fmt.Errorf("after_seq: %w", err))
			}
		}
		resp, err := c.ListMessages(ctx, args[1], after, *limitFlag)
		out.print(resp, err, func(s *structpb.Struct) { printMessages(s.Fields["messages"]) })
	case "search":
		need(args, 2, "search <query...>")
		resp, err := c.SearchMessages(ctx, strings.Join(args[1:], " "), "", *limitFlag)
		out.print(resp, err, func(s *structpb.Struct) { printMessages(s.Fields["results"]) })
	case "unread":
		n, err := c.UnreadCount(ctx)
		out.print(wrapperspb.Int64(n), err, func(*wrapperspb.Int64Value) { fmt.Printf("Unread: %d\n", n) })
	case "read":
		need(args, 2, "read <chat>")
		if err := c.MarkRead(ctx, args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("Marked as read.")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: mppctl [--session <name>] [--json] [--limit n] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show session and connection status")
	fmt.Fprintln(os.Stderr, "  start                        Start connections of enabled accounts")
	fmt.Fprintln(os.Stderr, "  stop                         Stop every connection")
	fmt.Fprintln(os.Stderr, "  enable | disable <account>   Toggle an account and its connection")
	fmt.Fprintln(os.Stderr, "  online | offline             Override the network state")
	fmt.Fprintln(os.Stderr, "  send [--group] <acc> <to> <text>  Send a message")
	fmt.Fprintln(os.Stderr, "  chats [account]              List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat> [after_seq]  List messages of a chat")
	fmt.Fprintln(os.Stderr, "  search <query>               Full-text search")
	fmt.Fprintln(os.Stderr, "  unread                       Show the unread count")
	fmt.Fprintln(os.Stderr, "  read <chat>                  Mark a chat as read")
	fmt.Fprintln(os.Stderr, "  watch [prefix]               Stream events")
	fmt.Fprintln(os.Stderr, "  sessions                     List known sessions")
}

type output struct {
	json bool
}

func (o output) print(m proto.Message, err error, text any) {
	if err != nil {
		fatal(err)
	}
	if o.json {
		outputJSON(m)
		return
	}
	switch f := text.(type) {
	case func(*structpb.Struct):
		f(m.(*structpb.Struct))
	case func(*wrapperspb.Int64Value):
		f(m.(*wrapperspb.Int64Value))
	}
}

func printStatus(s *structpb.Struct) {
	f := s.Fields
	fmt.Printf("Session: %s\n", f["session"].GetStringValue())
	fmt.Printf("Online:  %v\n", f["online"].GetBoolValue())
	fmt.Printf("Unread:  %d\n", int64(f["unread"].GetNumberValue()))
	fmt.Printf("Uptime:  %s\n", time.Duration(f["uptime_ms"].GetNumberValue())*time.Millisecond)
	for _, v := range f["connections"].GetListValue().GetValues() {
		c := v.GetStructValue().Fields
		enabled := ""
		if !c["enabled"].GetBoolValue() {
			enabled = " (disabled)"
		}
		fmt.Printf("  %-16s %-5s %s%s\n",
			c["account"].GetStringValue(), c["realm"].GetStringValue(), c["state"].GetStringValue(), enabled)
	}
}

func printChats(s *structpb.Struct) {
	chats := s.Fields["chats"].GetListValue().GetValues()
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, v := range chats {
		c := v.GetStructValue().Fields
		kind := "group"
		if c["private"].GetBoolValue() {
			kind = "private"
		}
		fmt.Printf("%-40s %s\n", c["id"].GetStringValue(), kind)
	}
}

func printMessages(v *structpb.Value) {
	for _, item := range v.GetListValue().GetValues() {
		m := item.GetStructValue().Fields
		text := m["title"].GetStringValue()
		if snippet := m["snippet"].GetStringValue(); snippet != "" {
			text = snippet
		} else if text == "" {
			text = m["body"].GetStringValue()
		}
		pending := ""
		if m["pending"].GetBoolValue() {
			pending = " (pending)"
		}
		fmt.Printf("%6d %s %s%s\n", int64(m["seq"].GetNumberValue()), m["send_date"].GetStringValue(), text, pending)
	}
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.Watch(ctx, prefix)
	if err != nil {
		fatal(err)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		payload, _ := protojson.Marshal(evt.Fields["payload"])
		at := time.UnixMilli(int64(evt.Fields["occurred_at_ms"].GetNumberValue()))
		fmt.Printf("%s %-26s %s\n", at.Format(time.TimeOnly), evt.Fields["kind"].GetStringValue(), payload)
	}
}

func cmdSessions(jsonOut bool) {
	names, err := session.List()
	if err != nil {
		fatal(err)
	}
	var list []any
	for _, name := range names {
		layout := session.For(name)
		pid, running := lock.Holder(layout.Lock())
		list = append(list, map[string]any{
			"name":    name,
			"path":    layout.Dir,
			"running": running,
			"pid":     pid,
		})
	}
	if jsonOut {
		s, err := structpb.NewList(list)
		if err != nil {
			fatal(err)
		}
		outputJSON(s)
		return
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, item := range list {
		s := item.(map[string]any)
		state := "stopped"
		if s["running"].(bool) {
			state = fmt.Sprintf("running, pid %d", s["pid"])
		}
		fmt.Printf("%-20s %s (%s)\n", s["name"], s["path"], state)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: mppctl %s\n", usage)
		os.Exit(1)
	}
}

func outputJSON(m proto.Message) {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
