// Package docs registers the OpenAPI document served by the Swagger UI.
// Regenerate with: swag init -g internal/http/router.go -o docs
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
        "/providers": {
            "get": {"tags": ["Providers"], "summary": "List configured providers", "operationId": "listProviders", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}
        },
        "/groups": {
            "get": {"tags": ["Groups"], "summary": "List groups (paginated)", "operationId": "listGroups", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}},
            "post": {"tags": ["Groups"], "summary": "Create a group chat", "operationId": "createGroup", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}, "422": {"description": "Unknown provider"}}}
        },
        "/groups/{id}": {
            "get": {"tags": ["Groups"], "summary": "Get a group", "operationId": "getGroup", "responses": {"200": {"description": "OK"}, "404": {"description": "Group not found"}}},
            "patch": {"tags": ["Groups"], "summary": "Update a group", "operationId": "updateGroup", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad request"}, "404": {"description": "Group not found"}}},
            "delete": {"tags": ["Groups"], "summary": "Delete a group", "operationId": "deleteGroup", "responses": {"204": {"description": "No Content"}, "404": {"description": "Group not found"}}}
        },
        "/groups/{id}/members": {
            "post": {"tags": ["Members"], "summary": "Add an AI member", "operationId": "addMember", "responses": {"201": {"description": "Created"}, "409": {"description": "Already a member"}}}
        },
        "/groups/{id}/members/{memberId}": {
            "delete": {"tags": ["Members"], "summary": "Remove an AI member", "operationId": "removeMember", "responses": {"204": {"description": "No Content"}}}
        },
        "/groups/{id}/status": {
            "get": {"tags": ["Groups"], "summary": "Reply status board", "operationId": "groupStatus", "responses": {"200": {"description": "OK"}}}
        },
        "/groups/{id}/stats": {
            "get": {"tags": ["Groups"], "summary": "Transcript statistics", "operationId": "groupStats", "responses": {"200": {"description": "OK"}}}
        },
        "/groups/{id}/messages": {
            "get": {"tags": ["Messages"], "summary": "List transcript entries", "operationId": "listMessages", "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}},
            "post": {"tags": ["Messages"], "summary": "Send a message to the group", "operationId": "postMessage", "responses": {"200": {"description": "Settled (wait=true)"}, "202": {"description": "Dispatched"}, "422": {"description": "No AI members"}}}
        },
        "/groups/{id}/messages/{messageId}/regenerate": {
            "post": {"tags": ["Messages"], "summary": "Regenerate one provider's reply", "operationId": "regenerateReply", "responses": {"202": {"description": "Accepted"}, "409": {"description": "Reply still running"}}}
        },
        "/groups/{id}/search": {
            "get": {"tags": ["Messages"], "summary": "Search a group's transcript", "operationId": "searchTranscript", "responses": {"200": {"description": "OK"}}}
        },
        "/groups/{id}/sessions": {
            "get": {"tags": ["Sessions"], "summary": "In-flight reply sessions", "operationId": "listSessions", "responses": {"200": {"description": "OK"}}}
        },
        "/groups/{id}/sessions/{sessionId}": {
            "delete": {"tags": ["Sessions"], "summary": "Cancel a reply session", "operationId": "cancelSession", "responses": {"204": {"description": "No Content"}}}
        },
        "/groups/{id}/events": {
            "get": {"tags": ["Events"], "summary": "Stream group events", "operationId": "groupEvents", "produces": ["text/event-stream"], "responses": {"200": {"description": "event stream"}}}
        },
        "/messages/{id}/reactions": {
            "get": {"tags": ["Reactions"], "summary": "Reactions on a transcript entry", "operationId": "listReactions", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Reactions"], "summary": "React to a transcript entry", "operationId": "addReaction", "responses": {"201": {"description": "Created"}, "409": {"description": "Already reacted"}}}
        },
        "/messages/{id}/reactions/{emoji}": {
            "delete": {"tags": ["Reactions"], "summary": "Remove the caller's reaction", "operationId": "removeReaction", "responses": {"204": {"description": "No Content"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Group Chat API",
	Description:      "Multi-provider group chat: one user message, concurrent replies from every AI member.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
