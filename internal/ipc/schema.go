package ipc

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// requestSchemas maps request types to their embedded schema. Messages
// without an entry carry no payload and skip validation.
var requestSchemas = map[MessageType]string{
	MsgHandshake:     "schemas/handshake.schema.json",
	MsgStatusRequest: "schemas/status.schema.json",
	MsgGetContext:    "schemas/get_context.schema.json",
	MsgUpdateOverlay: "schemas/update_overlay.schema.json",
	MsgSubscribe:     "schemas/subscribe.schema.json",
	MsgUnsubscribe:   "schemas/unsubscribe.schema.json",
}

var (
	schemaOnce     sync.Once
	schemaCompiled map[MessageType]*jsonschema.Schema
	schemaErr      error
)

// compileSchemas compiles every embedded schema once. A failure here is
// a packaging defect, surfaced on the first validated request.
func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[MessageType]*jsonschema.Schema, len(requestSchemas))

	for msgType, path := range requestSchemas {
		data, err := schemaFS.ReadFile(path)
		if err != nil {
			schemaErr = fmt.Errorf("read schema %s: %w", path, err)
			return
		}
		if err := compiler.AddResource(path, bytes.NewReader(data)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", path, err)
			return
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", path, err)
			return
		}
		compiled[msgType] = schema
	}

	schemaCompiled = compiled
}

// ValidateRequest checks an inbound payload against the schema for its
// message type. Types without a schema pass. An empty payload is
// validated as an empty object so required fields still fail.
func ValidateRequest(msgType MessageType, payload []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}

	schema, ok := schemaCompiled[msgType]
	if !ok {
		return nil
	}

	var instance any
	if len(payload) == 0 {
		instance = map[string]any{}
	} else {
		if err := json.Unmarshal(payload, &instance); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("payload rejected: %w", err)
	}
	return nil
}
