// agentcli is an interactive test client for the proxy. It connects to
// the /ws endpoint, applies settings, and lets you inject user messages
// from stdin; function call requests are answered with a canned result so
// the full deferred-turn flow can be exercised end to end.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/signal-meaning/voiceproxy/messages"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "proxy WebSocket URL")
	traceID := flag.String("trace", "", "traceId query parameter (optional)")
	prompt := flag.String("prompt", "You are a concise voice assistant.", "agent instructions")
	audioFile := flag.String("audio", "", "raw PCM file to stream as audio frames (optional)")
	flag.Parse()

	url := *serverURL
	if *traceID != "" {
		url = fmt.Sprintf("%s?traceId=%s", url, *traceID)
	}

	log.Printf("connecting to %s", url)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		var readyOnce bool
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read error: %v", err)
				return
			}
			if messageType == websocket.BinaryMessage {
				log.Printf("audio frame: %d bytes", len(data))
				continue
			}

			var ev messages.AgentEvent
			if err := sonic.Unmarshal(data, &ev); err != nil {
				log.Printf("parse error: %v", err)
				continue
			}

			switch ev.Type {
			case messages.TypeWelcome:
				log.Printf("welcome, connection %s", ev.ConnectionID)

			case messages.TypeSettingsApplied:
				log.Println("settings applied")
				if !readyOnce {
					readyOnce = true
					close(ready)
				}

			case messages.TypeConversationText:
				fmt.Printf("[%s] %s\n", ev.Role, ev.Content)

			case messages.TypeAgentThinking:
				log.Println("agent thinking...")

			case messages.TypeAgentStartedSpeaking:
				log.Println("agent speaking")

			case messages.TypeAgentAudioDone:
				log.Println("agent audio done")

			case messages.TypeFunctionCallRequest:
				log.Printf("function call: %s(%s) id=%s", ev.Name, ev.Arguments, ev.ID)
				// Answer with a canned result; a real client would POST
				// to the application backend here.
				reply := messages.ClientMessage{
					Type:    messages.TypeFunctionCallResponse,
					ID:      ev.ID,
					Name:    ev.Name,
					Content: `{"result":"ok"}`,
				}
				sendJSON(conn, reply)

			case messages.TypeError:
				log.Printf("error [%s]: %s", ev.Code, ev.Message)
			}
		}
	}()

	// Configure the session and wait for the readiness signal before the
	// first injection.
	settings := messages.ClientMessage{
		Type: messages.TypeSettings,
		Audio: &messages.AudioSettings{
			Input:  &messages.AudioFormat{Encoding: "linear16", SampleRate: 24000},
			Output: &messages.AudioFormat{Encoding: "linear16", SampleRate: 24000},
		},
		Agent: &messages.AgentSettings{
			Think: &messages.ThinkSettings{Prompt: *prompt},
		},
	}
	sendJSON(conn, settings)

	select {
	case <-ready:
	case <-time.After(15 * time.Second):
		log.Fatal("timed out waiting for settings acknowledgment")
	case <-done:
		return
	}

	if *audioFile != "" {
		streamAudio(conn, *audioFile)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			sendJSON(conn, messages.ClientMessage{
				Type:    messages.TypeInjectUserMessage,
				Content: text,
			})
		}
	}()

	select {
	case <-done:
		log.Println("connection closed")
	case <-interrupt:
		log.Println("interrupted, closing")
		writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
	}
}

// writeMu serializes writes; the read goroutine and the stdin loop both
// send messages.
var writeMu sync.Mutex

func sendJSON(conn *websocket.Conn, msg messages.ClientMessage) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("encode error: %v", err)
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("send error: %v", err)
	}
}

// streamAudio sends a raw PCM file in 100ms frames at real-time pace.
func streamAudio(conn *websocket.Conn, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to load audio: %v", err)
		return
	}

	frameSize := 4800 // 100ms of 24kHz 16-bit mono
	for i := 0; i < len(data); i += frameSize {
		end := i + frameSize
		if end > len(data) {
			end = len(data)
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, data[i:end])
		writeMu.Unlock()
		if err != nil {
			log.Printf("audio send error: %v", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("streamed %d audio bytes", len(data))
}
