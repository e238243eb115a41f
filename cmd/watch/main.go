package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"wavedirector.ai/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8091/v1/stream", "observer stream url")
		quiet   = flag.Bool("quiet", false, "also print ticks that changed nothing")
		sources = flag.String("sources", "", "comma-separated spawn sources to show (timeline,weighted)")
		strict  = flag.Bool("strict", false, "validate every message against the stream schema")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Quiet:           *quiet,
	}
	for _, s := range strings.Split(*sources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sub.Sources = append(sub.Sources, s)
		}
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("read: %v", err)
			}
			return
		}
		if *strict {
			if err := protocol.ValidateMessage(msg); err != nil {
				logger.Printf("schema: %v", err)
				continue
			}
		}
		if line := describe(msg); line != "" {
			logger.Print(line)
		}
	}
}

// describe renders one stream message as a log line.
func describe(msg []byte) string {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return ""
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return ""
		}
		return fmt.Sprintf("WELCOME session=%s digest=%s tick=%d", w.SessionID, w.Digest, w.Tick)

	case protocol.TypeTick:
		var t protocol.TickMsg
		if err := json.Unmarshal(msg, &t); err != nil {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "TICK %d t=%.1fs design=%.1fs", t.Tick, float64(t.RunMs)/1000, t.TDesign)
		if t.Started != "" {
			fmt.Fprintf(&b, " start=%s", t.Started)
		}
		if t.Ended != "" {
			fmt.Fprintf(&b, " end=%s", t.Ended)
		}
		if t.Suspended {
			b.WriteString(" suspended")
		}
		for _, s := range t.Spawns {
			fmt.Fprintf(&b, " %s:%s/%s×%d(%s)", s.Source, s.Archetype, s.Mode, s.Count, s.Pattern)
		}
		if t.Failures > 0 {
			fmt.Fprintf(&b, " failures=%d", t.Failures)
		}
		if t.Faults > 0 {
			fmt.Fprintf(&b, " faults=%d", t.Faults)
		}
		return b.String()

	case protocol.TypeControl:
		var c protocol.ControlMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return ""
		}
		payload, _ := json.Marshal(c.Payload)
		return fmt.Sprintf("CONTROL event=%s payload=%s", c.EventID, payload)

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return ""
		}
		return fmt.Sprintf("ERROR %s: %s", e.Code, e.Message)
	}
	return ""
}
