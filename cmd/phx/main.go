package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	phx "github.com/go-phx-channels"
	"github.com/spf13/cobra"
)

var (
	endpoint string
	topic    string
	username string
)

func main() {
	root := &cobra.Command{
		Use:   "phx",
		Short: "Debug client for Phoenix channel endpoints",
	}
	root.PersistentFlags().StringVar(&endpoint, "url", "ws://localhost:4000/socket", "socket endpoint")
	root.PersistentFlags().StringVar(&topic, "topic", "room:lobby", "channel topic")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Join a topic and exchange new_msg events from stdin",
		RunE:  runChat,
	}
	chat.Flags().StringVar(&username, "name", "phx-cli", "sender name")

	presence := &cobra.Command{
		Use:   "presence",
		Short: "Join a topic and print presence updates",
		RunE:  runPresence,
	}

	root.AddCommand(chat, presence)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func dial(endpoint string) (*phx.Socket, error) {
	socket := phx.NewSocket(endpoint, &phx.SocketOptions{
		Logger: log.New(os.Stderr, "phx: ", log.LstdFlags),
	})

	connected := make(chan struct{}, 1)
	socket.OnOpen(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	socket.OnClose(func(err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
		}
	})

	socket.Connect()
	select {
	case <-connected:
		return socket, nil
	case <-time.After(10 * time.Second):
		socket.Disconnect()
		return nil, fmt.Errorf("timed out connecting to %s", endpoint)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	socket, err := dial(endpoint)
	if err != nil {
		return err
	}
	defer socket.Disconnect()

	channel := socket.Channel(topic, map[string]interface{}{"name": username})
	channel.On("new_msg", func(payload interface{}) {
		if msg, ok := payload.(map[string]interface{}); ok {
			fmt.Printf("[%v] %v\n", msg["user"], msg["body"])
		}
	})

	joined := make(chan error, 1)
	channel.JoinIfNeeded(func(err error) { joined <- err })
	if err := <-joined; err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}
	fmt.Printf("joined %s; type messages, ctrl-d to quit\n", topic)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := scanner.Text()
		if body == "" {
			continue
		}
		channel.Push("new_msg", map[string]interface{}{
			"body": body,
			"user": username,
		}).Receive("error", func(resp interface{}) {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", resp)
		})
	}
	return scanner.Err()
}

func runPresence(cmd *cobra.Command, args []string) error {
	socket, err := dial(endpoint)
	if err != nil {
		return err
	}
	defer socket.Disconnect()

	channel := socket.Channel(topic, nil)
	presence := channel.Presence()

	presence.OnJoin(func(id string, meta phx.Meta) {
		fmt.Printf("+ %s %v\n", id, meta)
	})
	presence.OnLeave(func(id string, meta phx.Meta) {
		fmt.Printf("- %s %v\n", id, meta)
	})
	channel.OnPresenceUpdate(func() {
		fmt.Printf("presence: %d online\n", presence.Size())
	})

	joined := make(chan error, 1)
	channel.JoinIfNeeded(func(err error) { joined <- err })
	if err := <-joined; err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	return nil
}
