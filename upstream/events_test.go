package upstream

import (
	"testing"

	"github.com/bytedance/sonic"
)

func TestTextTerminal(t *testing.T) {
	cases := map[string]bool{
		EventTypeResponseTextDone:             true,
		EventTypeResponseAudioTranscriptDone:  true,
		EventTypeResponseAudioDone:            false, // audio completion never closes a turn
		EventTypeResponseTextDelta:            false,
		EventTypeResponseAudioTranscriptDelta: false,
		EventTypeResponseDone:                 false,
		EventTypeError:                        false,
	}
	for evType, want := range cases {
		ev := &ServerEvent{Type: evType}
		if got := ev.TextTerminal(); got != want {
			t.Errorf("TextTerminal(%s) = %v, want %v", evType, got, want)
		}
	}
}

func TestTextOfPrefersTextOverTranscript(t *testing.T) {
	ev := &ServerEvent{Text: "typed", Transcript: "spoken"}
	if got := ev.TextOf(); got != "typed" {
		t.Fatalf("TextOf = %q", got)
	}
	ev = &ServerEvent{Transcript: "spoken"}
	if got := ev.TextOf(); got != "spoken" {
		t.Fatalf("TextOf = %q", got)
	}
}

func TestItemConfirmation(t *testing.T) {
	for _, evType := range []string{
		EventTypeConversationItemAdded,
		EventTypeConversationItemCreated,
		EventTypeConversationItemDone,
	} {
		ev := &ServerEvent{Type: evType}
		if !ev.ItemConfirmation() {
			t.Errorf("ItemConfirmation(%s) = false", evType)
		}
	}
	ev := &ServerEvent{Type: EventTypeResponseCreated}
	if ev.ItemConfirmation() {
		t.Error("response.created treated as item confirmation")
	}
}

func TestServerEventDecoding(t *testing.T) {
	data := []byte(`{
		"type": "conversation.item.added",
		"event_id": "evt_1",
		"item": {"id": "item_1", "type": "message", "role": "user",
			"content": [{"type": "input_text", "text": "hello"}]}
	}`)
	var ev ServerEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Item == nil || ev.Item.ID != "item_1" || ev.Item.Role != "user" {
		t.Fatalf("item = %+v", ev.Item)
	}

	data = []byte(`{
		"type": "response.function_call_arguments.done",
		"call_id": "call_1", "name": "get_weather",
		"arguments": "{\"location\":\"SF\"}"
	}`)
	ev = ServerEvent{}
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.CallID != "call_1" || ev.Name != "get_weather" || ev.Arguments != `{"location":"SF"}` {
		t.Fatalf("function call fields = %+v", ev)
	}

	data = []byte(`{"type": "error", "error": {"code": "bad", "message": "nope"}}`)
	ev = ServerEvent{}
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Error == nil || ev.Error.Code != "bad" {
		t.Fatalf("error detail = %+v", ev.Error)
	}
}

func TestEventBuilders(t *testing.T) {
	requireTypeAndID := func(t *testing.T, ev map[string]any, wantType string) {
		t.Helper()
		if ev["type"] != wantType {
			t.Fatalf("type = %v, want %s", ev["type"], wantType)
		}
		id, _ := ev["event_id"].(string)
		if id == "" {
			t.Fatal("missing event_id")
		}
	}

	requireTypeAndID(t, SessionUpdateEvent(&SessionConfig{Voice: "alloy"}), EventTypeSessionUpdate)
	requireTypeAndID(t, AppendAudioEvent("cGNt"), EventTypeInputAudioBufferAppend)
	requireTypeAndID(t, CommitEvent(), EventTypeInputAudioBufferCommit)
	requireTypeAndID(t, ResponseCreateEvent(), EventTypeResponseCreate)

	ev := UserMessageItem("hello")
	requireTypeAndID(t, ev, EventTypeConversationItemCreate)
	item := ev["item"].(map[string]any)
	if item["role"] != "user" {
		t.Fatalf("role = %v", item["role"])
	}
	content := item["content"].([]map[string]any)
	if len(content) != 1 || content[0]["type"] != "input_text" || content[0]["text"] != "hello" {
		t.Fatalf("content = %+v", content)
	}

	ev = AssistantMessageItem("hi there")
	item = ev["item"].(map[string]any)
	if item["role"] != "assistant" {
		t.Fatalf("role = %v", item["role"])
	}
	content = item["content"].([]map[string]any)
	if content[0]["type"] != "text" {
		t.Fatalf("assistant content type = %v", content[0]["type"])
	}

	ev = FunctionCallOutputItem("call_1", `{"result":"72F"}`)
	requireTypeAndID(t, ev, EventTypeConversationItemCreate)
	item = ev["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("function output item = %+v", item)
	}
	if item["output"] != `{"result":"72F"}` {
		t.Fatalf("output = %v", item["output"])
	}

	if id1, id2 := CommitEvent()["event_id"], CommitEvent()["event_id"]; id1 == id2 {
		t.Fatal("event ids are not unique")
	}
}
