package protocol

import "testing"

func TestExtractFirstJSONObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"type":"final","content":"hi"}`, `{"type":"final","content":"hi"}`, true},
		{"fenced", "```json\n{\"type\":\"tool\",\"name\":\"x\"}\n```", `{"type":"tool","name":"x"}`, true},
		{"nested braces", `prefix {"a":{"b":1},"c":"}"} suffix`, `{"a":{"b":1},"c":"}"}`, true},
		{"no object", "just text, no json here", "", false},
		{"escaped quote in string", `{"a":"he said \"hi\""}`, `{"a":"he said \"hi\""}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractFirstJSONObject(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	env, found, err := ParseEnvelope(`{"type":"tool","name":"list_skill_files","arguments":{"skill_name":"A"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if env.Type != "tool" || env.Name != "list_skill_files" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestParseEnvelopeNotFound(t *testing.T) {
	t.Parallel()

	_, found, err := ParseEnvelope("plain final answer text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestIsAllowReply(t *testing.T) {
	t.Parallel()

	allow := []string{"允许", "同意吧", "ok", "Yes", "好的", "sure"}
	for _, s := range allow {
		if !IsAllowReply(s) {
			t.Errorf("IsAllowReply(%q) = false, want true", s)
		}
	}

	deny := []string{"不允许", "不同意", "拒绝", "取消"}
	for _, s := range deny {
		if IsAllowReply(s) {
			t.Errorf("IsAllowReply(%q) = true, want false", s)
		}
		if !IsDenyReply(s) {
			t.Errorf("IsDenyReply(%q) = false, want true", s)
		}
	}

	if IsAllowReply("") || IsDenyReply("") {
		t.Error("empty string must be neither allow nor deny")
	}
}
