package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base url")
	pairs    = flag.Int("pairs", 50, "number of befriended user pairs")
	msgCount = flag.Int("messages", 20, "messages per user")
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

type account struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func main() {
	flag.Parse()
	log.Info().Int("users", *pairs*2).Int("messages", *msgCount).Msg("starting load test")

	start := time.Now()
	var wg sync.WaitGroup
	// Pair i is u_i_a talking to u_i_b.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Info().Dur("elapsed", time.Since(start)).Msg("load test complete")
}

func runPair(pairID int) {
	a, err := authenticate(fmt.Sprintf("u_%d_a", pairID))
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("auth failed")
		return
	}
	b, err := authenticate(fmt.Sprintf("u_%d_b", pairID))
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("auth failed")
		return
	}

	if err := befriend(a, b); err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("befriend failed")
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, a, b)
	go spamChat(&wsWg, b, a)
	wsWg.Wait()
}

// authenticate registers the user, falling back to login when it exists.
func authenticate(username string) (*account, error) {
	creds := map[string]string{
		"username": username,
		"email":    username + "@loadtest.local",
		"password": "password123",
	}

	var acc account
	status, err := call(http.MethodPost, "/register", "", creds, &acc)
	if err != nil {
		return nil, err
	}
	if status == http.StatusCreated {
		return &acc, nil
	}

	status, err = call(http.MethodPost, "/login", "", creds, &acc)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, status)
	}
	return &acc, nil
}

func befriend(a, b *account) error {
	var sent struct {
		FriendRequest struct {
			ID string `json:"id"`
		} `json:"friendRequest"`
	}
	status, err := call(http.MethodPost, "/api/friends", a.Token,
		map[string]string{"recipientUsername": b.User.Username}, &sent)
	if err != nil {
		return err
	}
	// Reruns find the pair already befriended.
	if status == http.StatusBadRequest {
		return nil
	}
	if status != http.StatusOK {
		return fmt.Errorf("send request: status %d", status)
	}

	status, err = call(http.MethodPatch, "/api/friends/"+sent.FriendRequest.ID, b.Token,
		map[string]string{"action": "accept"}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("accept request: status %d", status)
	}
	return nil
}

func spamChat(wg *sync.WaitGroup, from, to *account) {
	defer wg.Done()

	u, _ := url.Parse(*baseURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"auth.token": {from.Token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Error().Err(err).Str("user", from.User.Username).Msg("ws connect failed")
		return
	}
	defer conn.Close()

	// Discard inbound traffic so the server never sees a stalled reader.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		var saved struct {
			Message json.RawMessage `json:"message"`
		}
		status, err := call(http.MethodPost, "/api/messages", from.Token, map[string]string{
			"recipientId": to.User.ID,
			"content":     fmt.Sprintf("load test message %d from %s", i, from.User.Username),
		}, &saved)
		if err != nil || status != http.StatusOK {
			log.Error().Err(err).Int("status", status).Str("user", from.User.Username).Msg("save failed")
			return
		}

		var meta struct {
			ConversationID string `json:"conversationId"`
		}
		_ = json.Unmarshal(saved.Message, &meta)

		err = conn.WriteJSON(envelope{Event: "send-message", Data: map[string]interface{}{
			"conversationId": meta.ConversationID,
			"recipientId":    to.User.ID,
			"message":        saved.Message,
		}})
		if err != nil {
			log.Error().Err(err).Str("user", from.User.Username).Msg("send failed")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Info().Str("user", from.User.Username).Int("messages", *msgCount).Msg("finished sending")
}

func call(method, path, token string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(method, *baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
