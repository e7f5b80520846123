// loadtest ramps WebSocket connections against a running chat server,
// authenticates each one, and reports connect, auth, and message
// round-trip behavior while polling the health endpoint.
//
// Users must exist before the run; mint them with cmd/provision. Tokens
// are signed locally from the shared secret, one synthetic user per
// connection slot from the provisioned list, reused round-robin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ktauchathuranga/notebud-sub000/internal/auth"
)

type stats struct {
	connected    atomic.Int64
	connectFails atomic.Int64
	authOK       atomic.Int64
	authFails    atomic.Int64
	msgsSent     atomic.Int64
	msgsRecv     atomic.Int64
	errors       atomic.Int64
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8090", "server WebSocket URL")
	healthURL := flag.String("health", "http://localhost:9090/healthz", "health endpoint URL")
	secret := flag.String("secret", "", "JWT signing secret (must match the server)")
	users := flag.String("users", "", "comma-separated user ids (from cmd/provision)")
	target := flag.Int("connections", 100, "target concurrent connections")
	rampRate := flag.Int("ramp", 50, "new connections per second")
	sustain := flag.Duration("sustain", 60*time.Second, "how long to hold the load")
	chatter := flag.Duration("chatter", 5*time.Second, "interval between inbox polls per connection")
	flag.Parse()

	if *secret == "" || *users == "" {
		fmt.Fprintln(os.Stderr, "usage: loadtest -url WS -secret SECRET -users id1,id2,... [flags]")
		os.Exit(2)
	}
	userIDs := strings.Split(*users, ",")
	verifier := auth.NewJWTVerifier(*secret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st stats
	var wg sync.WaitGroup

	go report(ctx, &st, *healthURL)

	log.Printf("ramping to %d connections at %d/s against %s", *target, *rampRate, *wsURL)
	ticker := time.NewTicker(time.Second / time.Duration(*rampRate))
	defer ticker.Stop()

ramp:
	for i := 0; i < *target; i++ {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}

		userID := userIDs[i%len(userIDs)]
		token, err := verifier.Generate(userID, time.Hour)
		if err != nil {
			log.Fatalf("token for %s: %v", userID, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(ctx, *wsURL, token, *chatter, &st)
		}()
	}

	select {
	case <-ctx.Done():
	case <-time.After(*sustain):
	}
	stop()
	wg.Wait()

	log.Printf("done: connected=%d connect_fails=%d auth_ok=%d auth_fails=%d sent=%d recv=%d errors=%d",
		st.connected.Load(), st.connectFails.Load(), st.authOK.Load(), st.authFails.Load(),
		st.msgsSent.Load(), st.msgsRecv.Load(), st.errors.Load())
}

func runClient(ctx context.Context, url, token string, chatter time.Duration, st *stats) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		st.connectFails.Add(1)
		return
	}
	st.connected.Add(1)
	defer func() {
		st.connected.Add(-1)
		ws.Close()
	}()

	if err := ws.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		st.errors.Add(1)
		return
	}
	st.msgsSent.Add(1)

	// Reader: count everything the server pushes, flag auth outcome.
	authed := make(chan bool, 1)
	go func() {
		first := true
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					st.errors.Add(1)
				}
				return
			}
			st.msgsRecv.Add(1)
			if first {
				first = false
				authed <- msg["type"] == "auth_success"
			}
		}
	}()

	select {
	case ok := <-authed:
		if !ok {
			st.authFails.Add(1)
			return
		}
		st.authOK.Add(1)
	case <-time.After(10 * time.Second):
		st.authFails.Add(1)
		return
	case <-ctx.Done():
		return
	}

	// Keep a steady request/response load going.
	tick := time.NewTicker(chatter)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := ws.WriteJSON(map[string]string{"type": "get_active_chats"}); err != nil {
				st.errors.Add(1)
				return
			}
			st.msgsSent.Add(1)
		}
	}
}

func report(ctx context.Context, st *stats, healthURL string) {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			line := fmt.Sprintf("connected=%d auth_ok=%d auth_fails=%d sent=%d recv=%d errors=%d",
				st.connected.Load(), st.authOK.Load(), st.authFails.Load(),
				st.msgsSent.Load(), st.msgsRecv.Load(), st.errors.Load())
			if h := fetchHealth(healthURL); h != "" {
				line += " | " + h
			}
			log.Print(line)
		}
	}
}

func fetchHealth(url string) string {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	var h struct {
		Connections int     `json:"connections"`
		UsersOnline int     `json:"users_online"`
		CPUPercent  float64 `json:"cpu_percent"`
		RSSBytes    uint64  `json:"rss_bytes"`
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return ""
	}
	return fmt.Sprintf("server: conns=%d users=%d cpu=%.1f%% rss=%dMB",
		h.Connections, h.UsersOnline, h.CPUPercent, h.RSSBytes/(1024*1024))
}
