package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// simulate injects synthetic events into a running co-pilot through its
// admin HTTP endpoints, so chat rules, redemptions and the LLM loop can be
// exercised without a live Twitch connection.
//
// Usage:
//
//	simulate chat [-user someviewer] "hello there"
//	simulate redemption -reward <reward-id> [-user someviewer] [-input "text"]
func main() {
	target := flag.String("target", "http://localhost:5000", "base URL of the running co-pilot")
	user := flag.String("user", "someviewer", "username the event is attributed to")
	userId := flag.String("user-id", "12345", "user id the event is attributed to")
	reward := flag.String("reward", "", "platform reward id (redemption only)")
	input := flag.String("input", "", "redemption user input")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		log.Fatalf("Usage: simulate [chat|redemption] ...")
	}

	var path string
	var payload any
	switch args[0] {
	case "chat":
		if len(args) < 2 {
			log.Fatalf("Usage: simulate chat \"message text\"")
		}
		path = "/admin/chat"
		payload = map[string]string{
			"username":  *user,
			"userId":    *userId,
			"messageId": uuid.New().String(),
			"text":      strings.Join(args[1:], " "),
		}
	case "redemption":
		if *reward == "" {
			log.Fatalf("redemption requires -reward <reward-id>")
		}
		path = "/admin/redemption"
		payload = map[string]string{
			"redemptionId": uuid.New().String(),
			"rewardId":     *reward,
			"userId":       *userId,
			"userName":     *user,
			"userInput":    *input,
		}
	default:
		log.Fatalf("unrecognized event type '%s'", args[0])
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("failed to encode payload: %v", err)
	}
	url := *target + path
	fmt.Printf("POST %s\n%s\n", url, body)

	res, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Fatalf("error sending request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		log.Fatalf("got response %d", res.StatusCode)
	}
	fmt.Printf("< %d\n", res.StatusCode)
}
