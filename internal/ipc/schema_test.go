package ipc

import (
	"strings"
	"testing"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		payload string
		wantErr bool
	}{
		{
			name:    "valid overlay update",
			msgType: MsgUpdateOverlay,
			payload: `{"text":"ghost suggestion"}`,
		},
		{
			name:    "overlay update missing text",
			msgType: MsgUpdateOverlay,
			payload: `{}`,
			wantErr: true,
		},
		{
			name:    "overlay update empty payload",
			msgType: MsgUpdateOverlay,
			payload: "",
			wantErr: true,
		},
		{
			name:    "overlay update wrong type",
			msgType: MsgUpdateOverlay,
			payload: `{"text":42}`,
			wantErr: true,
		},
		{
			name:    "overlay update empty text allowed",
			msgType: MsgUpdateOverlay,
			payload: `{"text":""}`,
		},
		{
			name:    "valid context query",
			msgType: MsgGetContext,
			payload: `{"max_chars":200}`,
		},
		{
			name:    "context query no payload",
			msgType: MsgGetContext,
			payload: "",
		},
		{
			name:    "context query negative max",
			msgType: MsgGetContext,
			payload: `{"max_chars":-1}`,
			wantErr: true,
		},
		{
			name:    "valid handshake",
			msgType: MsgHandshake,
			payload: `{"client_name":"ghostctl","protocol_version":1}`,
		},
		{
			name:    "handshake missing client name",
			msgType: MsgHandshake,
			payload: `{"protocol_version":1}`,
			wantErr: true,
		},
		{
			name:    "valid subscribe",
			msgType: MsgSubscribe,
			payload: `{"events":[1,2]}`,
		},
		{
			name:    "subscribe all",
			msgType: MsgSubscribe,
			payload: `{}`,
		},
		{
			name:    "subscribe events not array",
			msgType: MsgSubscribe,
			payload: `{"events":"all"}`,
			wantErr: true,
		},
		{
			name:    "status with flag",
			msgType: MsgStatusRequest,
			payload: `{"include_config":true}`,
		},
		{
			name:    "unschema'd type skips validation",
			msgType: MsgPong,
			payload: `not even json`,
		},
		{
			name:    "invalid json on schema'd type",
			msgType: MsgGetContext,
			payload: `{broken`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.msgType, []byte(tt.payload))
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidateRequestErrorMentionsField(t *testing.T) {
	err := ValidateRequest(MsgUpdateOverlay, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "text") {
		t.Errorf("error should name the missing field: %v", err)
	}
}
