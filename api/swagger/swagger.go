package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "ISE Timetable API",
        "description": "Weekly timetable generation and conflict-resolution editing for the ISE department",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [
        {
            "BearerAuth": []
        }
    ],
    "tags": [
        {
            "name": "Generation",
            "description": "Seven-phase timetable generation runs"
        },
        {
            "name": "Timetables",
            "description": "Stored timetables and exports"
        },
        {
            "name": "Editor",
            "description": "Interactive conflict-resolution editing"
        },
        {
            "name": "Observability",
            "description": "Metrics"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is down"
                    }
                }
            }
        },
        "/api/v1/generation/runs": {
            "post": {
                "tags": [
                    "Generation"
                ],
                "summary": "Generate timetables for an academic year and semester type",
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GenerateRunRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Completed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "202": {
                        "description": "Queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "412": {
                        "description": "No master data",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/generation/runs/{id}": {
            "get": {
                "tags": [
                    "Generation"
                ],
                "summary": "Get a generation run with its phase report",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables": {
            "get": {
                "tags": [
                    "Timetables"
                ],
                "summary": "List the timetables of a scope",
                "parameters": [
                    {
                        "name": "academicYear",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "semesterType",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "enum": [
                            "ODD",
                            "EVEN"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Timetables"
                ],
                "summary": "Delete every timetable of a scope",
                "parameters": [
                    {
                        "name": "academicYear",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "semesterType",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "enum": [
                            "ODD",
                            "EVEN"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/validate": {
            "post": {
                "tags": [
                    "Generation"
                ],
                "summary": "Re-run the validation phase over stored timetables",
                "parameters": [
                    {
                        "name": "academicYear",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "semesterType",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "enum": [
                            "ODD",
                            "EVEN"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}": {
            "get": {
                "tags": [
                    "Timetables"
                ],
                "summary": "Get one timetable",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/export": {
            "get": {
                "tags": [
                    "Timetables"
                ],
                "summary": "Download the weekly grid",
                "produces": [
                    "text/csv",
                    "application/pdf",
                    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf",
                            "xlsx"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Open an editor session",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Opened",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "423": {
                        "description": "Locked by another user",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "get": {
                "tags": [
                    "Editor"
                ],
                "summary": "Get the editor session state",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Editor"
                ],
                "summary": "Close the editor session",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Closed"
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/propose": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Propose a move, an added break or a classroom change",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/EditorProposalRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Applied",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Blocked or confirmation required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/confirm": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Apply the pending proposal",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/cancel": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Drop the pending proposal",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/undo": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Undo the most recent edit",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/redo": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Redo the most recently undone edit",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/save": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Persist edited slots and breaks",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/revert": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Discard unsaved edits",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/breaks/delete": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Delete a break record",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DeleteBreakRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/breaks/remove-default": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Remove a default break",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DefaultBreakRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/timetables/{id}/editor/breaks/restore-default": {
            "post": {
                "tags": [
                    "Editor"
                ],
                "summary": "Restore a removed or moved default break",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "X-Editor-Session",
                        "in": "header",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DefaultBreakRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Applied",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Blocked or confirmation required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/api/v1/metrics/summary": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Aggregated service metrics",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "GenerateRunRequest": {
            "type": "object",
            "required": [
                "academicYear",
                "semesterType"
            ],
            "properties": {
                "academicYear": {
                    "type": "string",
                    "example": "2024-25"
                },
                "semesterType": {
                    "type": "string",
                    "enum": [
                        "ODD",
                        "EVEN"
                    ]
                },
                "seed": {
                    "type": "integer"
                },
                "labTrials": {
                    "type": "integer"
                },
                "labWorkers": {
                    "type": "integer"
                },
                "async": {
                    "type": "boolean"
                }
            }
        },
        "WindowPayload": {
            "type": "object",
            "required": [
                "day",
                "start",
                "end"
            ],
            "properties": {
                "day": {
                    "type": "string",
                    "example": "MONDAY"
                },
                "start": {
                    "type": "string",
                    "example": "09:00"
                },
                "end": {
                    "type": "string",
                    "example": "10:00"
                }
            }
        },
        "EditorProposalRequest": {
            "type": "object",
            "required": [
                "kind"
            ],
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "MOVE_SLOT",
                        "MOVE_BREAK",
                        "ADD_BREAK",
                        "CHANGE_CLASSROOM"
                    ]
                },
                "slotId": {
                    "type": "string"
                },
                "breakId": {
                    "type": "string"
                },
                "origin": {
                    "$ref": "#/definitions/WindowPayload"
                },
                "window": {
                    "$ref": "#/definitions/WindowPayload"
                },
                "label": {
                    "type": "string"
                },
                "classroomId": {
                    "type": "string"
                }
            }
        },
        "DeleteBreakRequest": {
            "type": "object",
            "required": [
                "breakId"
            ],
            "properties": {
                "breakId": {
                    "type": "string"
                }
            }
        },
        "DefaultBreakRequest": {
            "type": "object",
            "properties": {
                "origin": {
                    "$ref": "#/definitions/WindowPayload"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "meta": {
                    "type": "object"
                }
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
