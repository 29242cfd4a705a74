package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Geo Attendance API",
        "description": "Classroom attendance gated by distance from the teacher's location",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "tags": [
        {"name": "Session", "description": "Teacher session lifecycle"},
        {"name": "Attendance", "description": "Student submissions and the live roster"},
        {"name": "Photos", "description": "Signed photo downloads"}
    ],
    "paths": {
        "/session": {
            "get": {
                "tags": ["Session"],
                "summary": "Current session status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Session"],
                "summary": "Open a session anchored at the teacher's location",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LocationPayload"}}
                ],
                "responses": {
                    "201": {"description": "Opened", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Location unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/close": {
            "post": {
                "tags": ["Session"],
                "summary": "Close the current session",
                "responses": {
                    "200": {"description": "Closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "No session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/stream": {
            "get": {
                "tags": ["Session"],
                "summary": "Server-sent session state changes",
                "produces": ["text/event-stream"],
                "responses": {"200": {"description": "event: session"}}
            }
        },
        "/session/qr.png": {
            "get": {
                "tags": ["Session"],
                "summary": "QR code for the student entry page",
                "produces": ["image/png"],
                "responses": {
                    "200": {"description": "PNG image"},
                    "409": {"description": "No open session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Roster snapshot, newest first",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Attendance"],
                "summary": "Submit attendance",
                "description": "JSON or multipart/form-data with an optional photo file part.",
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Accepted, warnings may include PHOTO_UPLOAD_FAILED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "VALIDATION_ERROR", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "TOO_FAR", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "NO_ACTIVE_SESSION, SESSION_CLOSED or ALREADY_SIGNED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "LOCATION_ERROR", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "PERSISTENCE_ERROR or STORE_UNAVAILABLE, retryable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Attendance"],
                "summary": "Delete every attendance record",
                "parameters": [
                    {"name": "X-Confirm-Token", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Reset", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "428": {"description": "CONFIRMATION_REQUIRED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/stream": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Live roster: one snapshot event, then one entry event per new record",
                "produces": ["text/event-stream"],
                "responses": {"200": {"description": "event: snapshot, entry or reset"}}
            }
        },
        "/attendance/export": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Download the roster",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/attendance/reset-token": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Issue a single-use confirmation token for resetting records",
                "responses": {
                    "201": {"description": "Token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/photos/{token}": {
            "get": {
                "tags": ["Photos"],
                "summary": "Download a photo through a signed link",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Image"},
                    "404": {"description": "Unknown or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LocationPayload": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "accuracy": {"type": "number"},
                "captured_at": {"type": "integer", "description": "epoch milliseconds"},
                "sent_at": {"type": "integer", "description": "device epoch milliseconds when the request was sent"},
                "location_error": {"type": "string", "description": "Geolocation API error code or name"},
                "location_error_message": {"type": "string"}
            }
        },
        "SubmitAttendanceRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string", "maxLength": 120},
                "registration_number": {"type": "string", "maxLength": 64},
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "accuracy": {"type": "number"},
                "captured_at": {"type": "integer"},
                "sent_at": {"type": "integer"},
                "location_error": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "retryable": {"type": "boolean"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "warnings": {"type": "array", "items": {"type": "string"}},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
