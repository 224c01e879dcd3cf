// Package docs registers the OpenAPI document served under /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/sessions/{channelId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Current connection snapshot of a channel",
                "parameters": [
                    {"type": "integer", "name": "channelId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dtos.SessionSnapshotDTO"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/sessions/{channelId}/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Start or refresh the channel session",
                "parameters": [
                    {"type": "integer", "name": "channelId", "in": "path", "required": true},
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/dtos.StartSessionDTO"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "404": {"description": "Not Found"},
                    "503": {"description": "Shutting down"}
                }
            }
        },
        "/sessions/{channelId}/stop": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Stop the channel session without reconnecting",
                "parameters": [
                    {"type": "integer", "name": "channelId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/realtime": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["realtime"],
                "summary": "Websocket stream of the tenant's events",
                "parameters": [
                    {"type": "string", "name": "topics", "in": "query", "description": "comma separated: session,ticket,message,contact"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"}
                }
            }
        }
    },
    "definitions": {
        "dtos.StartSessionDTO": {
            "type": "object",
            "properties": {
                "force_new_pairing": {"type": "boolean"}
            }
        },
        "dtos.SessionSnapshotDTO": {
            "type": "object",
            "properties": {
                "channel_id": {"type": "integer"},
                "status": {"type": "string"},
                "qr_code": {"type": "string"},
                "retry_count": {"type": "integer"},
                "restart_attempts": {"type": "integer"},
                "last_disconnect_code": {"type": "integer"},
                "last_disconnect_message": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8000",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "deskhub API",
	Description:      "Channel session control and real-time ticket events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
