package gateway

import (
	"encoding/json"
	"testing"
)

func TestInitWSSchemas(t *testing.T) {
	if err := initWSSchemas(); err != nil {
		t.Errorf("initWSSchemas() error = %v", err)
	}
	// Idempotent.
	if err := initWSSchemas(); err != nil {
		t.Errorf("initWSSchemas() second call error = %v", err)
	}
}

func TestValidateWSRequestFrame(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantError bool
	}{
		{
			name: "valid connect request",
			raw: `{
				"type": "req",
				"id": "1",
				"method": "connect",
				"params": {
					"minProtocol": 1,
					"maxProtocol": 1,
					"client": {
						"id": "test-client",
						"version": "1.0.0",
						"platform": "linux"
					}
				}
			}`,
			wantError: false,
		},
		{
			name:      "valid ping request",
			raw:       `{"type": "req", "id": "2", "method": "ping", "params": {}}`,
			wantError: false,
		},
		{
			name:      "missing id",
			raw:       `{"type": "req", "method": "ping"}`,
			wantError: true,
		},
		{
			name:      "missing method",
			raw:       `{"type": "req", "id": "3"}`,
			wantError: true,
		},
		{
			name:      "todo create with title",
			raw:       `{"type": "req", "id": "4", "method": "todo:create", "params": {"title": "write tests", "tags": ["go"]}}`,
			wantError: false,
		},
		{
			name:      "todo create empty title",
			raw:       `{"type": "req", "id": "5", "method": "todo:create", "params": {"title": ""}}`,
			wantError: true,
		},
		{
			name:      "todo create without title",
			raw:       `{"type": "req", "id": "6", "method": "todo:create", "params": {}}`,
			wantError: true,
		},
		{
			name:      "todo update with null reminder",
			raw:       `{"type": "req", "id": "7", "method": "todo:update", "params": {"id": "t1", "reminderAt": null}}`,
			wantError: false,
		},
		{
			name:      "todo update without id",
			raw:       `{"type": "req", "id": "8", "method": "todo:update", "params": {"title": "x"}}`,
			wantError: true,
		},
		{
			name:      "todo reorder",
			raw:       `{"type": "req", "id": "9", "method": "todo:reorder", "params": {"id": "t1", "position": 0}}`,
			wantError: false,
		},
		{
			name:      "todo reorder negative position",
			raw:       `{"type": "req", "id": "10", "method": "todo:reorder", "params": {"id": "t1", "position": -2}}`,
			wantError: true,
		},
		{
			name:      "presence update valid state",
			raw:       `{"type": "req", "id": "11", "method": "presence:update", "params": {"status": "away"}}`,
			wantError: false,
		},
		{
			name:      "presence update offline rejected",
			raw:       `{"type": "req", "id": "12", "method": "presence:update", "params": {"status": "offline"}}`,
			wantError: true,
		},
		{
			name:      "typing start",
			raw:       `{"type": "req", "id": "13", "method": "presence:typing:start", "params": {"itemId": "t1"}}`,
			wantError: false,
		},
		{
			name:      "typing start without item",
			raw:       `{"type": "req", "id": "14", "method": "presence:typing:start", "params": {}}`,
			wantError: true,
		},
		{
			name:      "activity subscribe with limit",
			raw:       `{"type": "req", "id": "15", "method": "activity:subscribe", "params": {"limit": 20}}`,
			wantError: false,
		},
		{
			name:      "activity subscribe limit too large",
			raw:       `{"type": "req", "id": "16", "method": "activity:subscribe", "params": {"limit": 5000}}`,
			wantError: true,
		},
		{
			name:      "unknown method passes frame validation",
			raw:       `{"type": "req", "id": "17", "method": "nonexistent", "params": {}}`,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frame wsFrame
			if err := json.Unmarshal([]byte(tt.raw), &frame); err != nil {
				t.Fatalf("test frame undecodable: %v", err)
			}
			err := validateWSRequestFrame([]byte(tt.raw), &frame)
			if (err != nil) != tt.wantError {
				t.Errorf("validateWSRequestFrame() error = %v, wantError = %v", err, tt.wantError)
			}
		})
	}
}

func TestDecodeFrameRejectsNonRequests(t *testing.T) {
	s := &wsSession{}
	if _, err := s.decodeFrame([]byte(`{"type": "event", "event": "tick"}`)); err == nil {
		t.Error("decodeFrame(event) succeeded, want error")
	}
	if _, err := s.decodeFrame([]byte(`not json`)); err == nil {
		t.Error("decodeFrame(garbage) succeeded, want error")
	}
}

func TestSupportedWSMethodsHaveSchemas(t *testing.T) {
	if err := initWSSchemas(); err != nil {
		t.Fatalf("initWSSchemas() error = %v", err)
	}
	for _, method := range supportedWSMethods() {
		if wsSchemas.methods[method] == nil {
			t.Errorf("method %q has no params schema", method)
		}
	}
}
