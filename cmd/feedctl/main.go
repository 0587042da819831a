// Command feedctl connects to the gateway's /ws endpoint, authenticates
// with an API key, subscribes to a list of symbols, and prints every
// market_data frame it receives.
//
// Usage:
//
//	feedctl -key demo-key                                  # LTP on NSE:RELIANCE,NSE:TCS
//	feedctl -key demo-key -symbols NSE:RELIANCE,NSE:TCS     # specific symbols
//	feedctl -key demo-key -mode quote                       # QUOTE mode
//	feedctl -key demo-key -stats 10                         # print rate stats every N seconds
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type clientMessage struct {
	Action     string       `json:"action"`
	APIKey     string       `json:"api_key,omitempty"`
	Symbols    []symbolSpec `json:"symbols,omitempty"`
	Mode       int          `json:"mode,omitempty"`
	DepthLevel int          `json:"depth_level,omitempty"`
}

type symbolSpec struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

var modeNames = map[string]int{"ltp": 1, "quote": 2, "depth": 4}

func main() {
	url := flag.String("url", "ws://localhost:8200/ws", "WebSocket endpoint")
	apiKey := flag.String("key", "", "API key to authenticate with (required)")
	symbols := flag.String("symbols", "NSE:RELIANCE,NSE:TCS", "Comma-separated exchange:symbol pairs")
	mode := flag.String("mode", "ltp", "Subscription mode: ltp, quote, or depth")
	depthLevel := flag.Int("depth-level", 5, "Requested depth level, when -mode=depth")
	statsInterval := flag.Int("stats", 0, "Print message rate stats every N seconds (0 = off)")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *apiKey == "" {
		log.Fatal("-key is required")
	}
	modeNum, ok := modeNames[strings.ToLower(*mode)]
	if !ok {
		log.Fatalf("unknown mode %q: must be ltp, quote, or depth", *mode)
	}

	log.Printf("connecting to %s", *url)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Println("connected")

	sendFrame(conn, clientMessage{Action: "authenticate", APIKey: *apiKey})
	log.Printf("authenticate reply: %s", readOne(conn))

	var specs []symbolSpec
	for _, pair := range strings.Split(*symbols, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			log.Fatalf("malformed symbol %q: want EXCHANGE:SYMBOL", pair)
		}
		specs = append(specs, symbolSpec{Exchange: parts[0], Symbol: parts[1]})
	}
	sendFrame(conn, clientMessage{Action: "subscribe", Symbols: specs, Mode: modeNum, DepthLevel: *depthLevel})
	log.Printf("subscribe reply: %s", readOne(conn))

	var msgCount uint64
	if *statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
			defer ticker.Stop()
			var last uint64
			for range ticker.C {
				cur := atomic.LoadUint64(&msgCount)
				delta := cur - last
				rate := float64(delta) / float64(*statsInterval)
				log.Printf("[stats] %d frames total | %.1f frames/sec", cur, rate)
				last = cur
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(200 * time.Millisecond)
		os.Exit(0)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		atomic.AddUint64(&msgCount, 1)
		fmt.Println(string(data))
	}
}

func sendFrame(conn *websocket.Conn, msg clientMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Fatalf("send frame: %v", err)
	}
}

func readOne(conn *websocket.Conn) string {
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Fatalf("read reply: %v", err)
	}
	return string(data)
}
