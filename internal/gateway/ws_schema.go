package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		reqSchema, err := jsonschema.CompileString("ws_request", wsRequestSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.request = reqSchema

		methods := map[string]string{
			"connect":               wsConnectParamsSchema,
			"ping":                  wsEmptyParamsSchema,
			"todo:create":           wsTodoCreateParamsSchema,
			"todo:update":           wsTodoUpdateParamsSchema,
			"todo:delete":           wsTodoIDParamsSchema,
			"todo:reorder":          wsTodoReorderParamsSchema,
			"todo:subscribe":        wsTodoSubscribeParamsSchema,
			"todo:unsubscribe":      wsTodoSubscribeParamsSchema,
			"presence:update":       wsPresenceUpdateParamsSchema,
			"presence:get":          wsPresenceGetParamsSchema,
			"presence:typing:start": wsTypingParamsSchema,
			"presence:typing:stop":  wsTypingParamsSchema,
			"activity:subscribe":    wsActivitySubscribeParamsSchema,
			"activity:unsubscribe":  wsEmptyParamsSchema,
		}

		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

func validateWSRequestFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.request.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	if schema := wsSchemas.methods[frame.Method]; schema != nil {
		var params any
		if len(frame.Params) == 0 {
			params = map[string]any{}
		} else if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
		if err := schema.Validate(params); err != nil {
			return err
		}
	}
	return nil
}

const wsRequestSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": true
}`

const wsEmptyParamsSchema = `{
  "type": "object",
  "additionalProperties": true
}`

const wsConnectParamsSchema = `{
  "type": "object",
  "required": ["minProtocol", "maxProtocol", "client"],
  "properties": {
    "minProtocol": { "type": "integer", "minimum": 1 },
    "maxProtocol": { "type": "integer", "minimum": 1 },
    "client": {
      "type": "object",
      "required": ["id", "version", "platform"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "version": { "type": "string", "minLength": 1 },
        "platform": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    },
    "auth": {
      "type": "object",
      "properties": {
        "token": { "type": "string" }
      },
      "additionalProperties": true
    },
    "user": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "email": { "type": "string" },
        "name": { "type": "string" },
        "device": { "type": "string" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsTodoCreateParamsSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "categoryId": { "type": "string" },
    "reminderAt": { "type": "string", "format": "date-time" },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": true
}`

const wsTodoUpdateParamsSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "title": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "categoryId": { "type": "string" },
    "completed": { "type": "boolean" },
    "reminderAt": { "type": ["string", "null"], "format": "date-time" },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": true
}`

const wsTodoIDParamsSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsTodoReorderParamsSchema = `{
  "type": "object",
  "required": ["id", "position"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "position": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`

const wsTodoSubscribeParamsSchema = `{
  "type": "object",
  "properties": {
    "categoryId": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsPresenceUpdateParamsSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": { "enum": ["online", "away", "busy"] },
    "device": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsPresenceGetParamsSchema = `{
  "type": "object",
  "required": ["userId"],
  "properties": {
    "userId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsTypingParamsSchema = `{
  "type": "object",
  "required": ["itemId"],
  "properties": {
    "itemId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsActivitySubscribeParamsSchema = `{
  "type": "object",
  "properties": {
    "limit": { "type": "integer", "minimum": 1, "maximum": 100 }
  },
  "additionalProperties": true
}`
