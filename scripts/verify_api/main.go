// Smoke check for a running chat server: log in, then fetch history for the
// freshly issued conversation.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

type loginResponse struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversationId"`
}

func main() {
	apiAddr := os.Getenv("CHAT_API")
	if apiAddr == "" {
		apiAddr = "http://localhost:8080"
	}

	reqBody, _ := json.Marshal(map[string]string{"identity": "smoke-test"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", lr.Token[:10])
	fmt.Printf("Conversation: %s\n", lr.ConversationID)

	log.Println("Fetching history...")
	req, _ := http.NewRequest(http.MethodGet, apiAddr+"/chat/messages/"+lr.ConversationID, nil)
	req.Header.Add("Authorization", "Bearer "+lr.Token)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("History request failed:", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Printf("History: %s", string(body))
}
