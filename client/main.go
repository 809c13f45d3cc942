// Terminal chat client for the placement-agency chat service. Logs in,
// replays history, then relays stdin lines as chat messages. Commands:
// /typing emits a keystroke burst, /open and /close toggle the foreground
// state driving the unread badge, /quit exits.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/placement-chat/pkg/client"
	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/protocol"
)

type loginResponse struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversationId"`
}

type historyResponse struct {
	Success  bool                  `json:"success"`
	Messages []model.StoredMessage `json:"messages"`
}

func login(apiAddr, identity, conversationID string) (loginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"identity":       identity,
		"conversationId": conversationID,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return loginResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return loginResponse{}, fmt.Errorf("login failed: %s", string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return loginResponse{}, err
	}
	return lr, nil
}

func fetchHistory(apiAddr, token, conversationID string) ([]model.StoredMessage, error) {
	req, _ := http.NewRequest(http.MethodGet, apiAddr+"/chat/messages/"+conversationID, nil)
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, err
	}
	return hr.Messages, nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chat server address")
	apiAddr := flag.String("api", "http://localhost:8080", "chat server http base url")
	identity := flag.String("user", "guest", "display name")
	conversationID := flag.String("conversation", "", "conversation id (empty requests a new one)")
	flag.Parse()

	log.Printf("Logging in as %s...", *identity)
	lr, err := login(*apiAddr, *identity, *conversationID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	log.Printf("Conversation: %s", lr.ConversationID)

	ctrl := client.NewController(lr.ConversationID, *identity, client.DefaultPendingTTL, client.Callbacks{
		OnMessage: func(env protocol.Envelope, pending bool) {
			marker := ""
			if pending {
				marker = " (sending...)"
			}
			fmt.Printf("\r%s: %s%s\n> ", env.Sender, env.Body, marker)
		},
		OnPendingResolved: func(string) {
			fmt.Print("\r(delivered)\n> ")
		},
		OnPendingExpired: func(string) {
			fmt.Print("\r(send failed: no confirmation from server)\n> ")
		},
		OnTyping: func(sender string, typing bool) {
			if typing {
				fmt.Printf("\r%s is typing...      \n> ", sender)
			}
		},
		OnUnread: func(count int) {
			fmt.Printf("\r[%d unread]\n> ", count)
		},
		OnNotify: func(sender, _ string) {
			fmt.Printf("\r[new message from %s]\n> ", sender)
		},
		OnConnection: func(connected bool) {
			state := "disconnected"
			if connected {
				state = "connected"
			}
			fmt.Printf("\r[%s]\n> ", state)
		},
	})
	defer ctrl.Close()
	ctrl.SetForeground(true)

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+lr.Token)

	log.Printf("connecting to %s", u.String())
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()
	ctrl.SetConnected(true)

	// Subscribe before history so nothing falls between replay and live.
	joinEnv := protocol.Envelope{Event: protocol.EventJoinRoom, ConversationID: lr.ConversationID}
	payload, _ := joinEnv.Encode()
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				ctrl.SetConnected(false)
				return
			}
			env, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			ctrl.Apply(env)
		}
	}()

	// History replays exactly once, before any buffered live event.
	history, err := fetchHistory(*apiAddr, lr.Token, lr.ConversationID)
	if err != nil {
		log.Printf("history unavailable, starting empty: %v", err)
		history = nil
	}
	ctrl.LoadHistory(history)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch text {
			case "":
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/typing":
				env := protocol.Envelope{Event: protocol.EventUserTyping, ConversationID: lr.ConversationID}
				payload, _ := env.Encode()
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Println("write:", err)
					return
				}
			case "/open":
				ctrl.SetForeground(true)
			case "/close":
				ctrl.SetForeground(false)
			default:
				env := ctrl.Compose(text, nil)
				payload, _ := env.Encode()
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Println("write:", err)
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			// Close handshake with a bounded wait, then give up.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
