// Package docs holds the OpenAPI description of the accounts API, in the
// template format swaggo/swag serves from its registry. Keep it in step with
// the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "email": "support@example.com"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Check if the API and its dependencies are reachable",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/login": {
            "post": {
                "description": "Authenticate with email and password and receive access and refresh tokens",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "User login",
                "parameters": [
                    {"description": "Login credentials", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.LoginInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.AuthResponse"}},
                    "400": {"description": "Invalid credentials, inactive account or validation error", "schema": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "object"}}}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        },
        "/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Return the user the bearer access token was issued to",
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.UserResponse"}},
                    "401": {"description": "Unauthorized or inactive user", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        },
        "/register": {
            "post": {
                "description": "Create a new account and receive an access/refresh token pair. Accepts JSON or multipart/form-data with an \"avatar\" image file.",
                "consumes": ["application/json", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register a new user",
                "parameters": [
                    {"description": "Registration data", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.RegisterInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/auth.AuthResponse"}},
                    "400": {"description": "Field validation errors", "schema": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "object"}}}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        },
        "/token/blacklist": {
            "post": {
                "description": "Log out by blacklisting the given refresh token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["token"],
                "summary": "Blacklist refresh token",
                "parameters": [
                    {"description": "Refresh token", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "401": {"description": "Invalid, expired or already blacklisted token", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        },
        "/token/refresh": {
            "post": {
                "description": "Exchange a refresh token for a new access/refresh pair. The presented refresh token is blacklisted.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["token"],
                "summary": "Refresh tokens",
                "parameters": [
                    {"description": "Refresh token", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.TokenPair"}},
                    "400": {"description": "Missing refresh token", "schema": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "object"}}}},
                    "401": {"description": "Invalid, expired or blacklisted refresh token", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        },
        "/token/verify": {
            "post": {
                "description": "Check that an access or refresh token is valid and not blacklisted",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["token"],
                "summary": "Verify token",
                "parameters": [
                    {"description": "Token", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.VerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "401": {"description": "Token not valid", "schema": {"$ref": "#/definitions/auth.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "auth.AuthResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "tokens": {"$ref": "#/definitions/auth.TokenPair"},
                "user": {"$ref": "#/definitions/auth.UserResponse"}
            }
        },
        "auth.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "auth.LoginInput": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "auth.RefreshRequest": {
            "type": "object",
            "properties": {
                "refresh": {"type": "string"}
            }
        },
        "auth.RegisterInput": {
            "type": "object",
            "required": ["email", "password", "password_confirm", "username"],
            "properties": {
                "avatar": {"type": "string"},
                "bio": {"type": "string"},
                "email": {"type": "string", "maxLength": 254},
                "first_name": {"type": "string", "maxLength": 150},
                "last_name": {"type": "string", "maxLength": 150},
                "password": {"type": "string"},
                "password_confirm": {"type": "string"},
                "username": {"type": "string", "maxLength": 150}
            }
        },
        "auth.TokenPair": {
            "type": "object",
            "properties": {
                "access": {"type": "string"},
                "refresh": {"type": "string"}
            }
        },
        "auth.UserResponse": {
            "type": "object",
            "properties": {
                "avatar": {"type": "string"},
                "bio": {"type": "string"},
                "created_at": {"type": "string"},
                "email": {"type": "string"},
                "first_name": {"type": "string"},
                "full_name": {"type": "string"},
                "id": {"type": "string"},
                "is_active": {"type": "boolean"},
                "last_login": {"type": "string"},
                "last_name": {"type": "string"},
                "updated_at": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "auth.VerifyRequest": {
            "type": "object",
            "properties": {
                "token": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the access token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Accounts API",
	Description:      "User accounts: registration, login and JWT access/refresh tokens with rotation and blacklisting.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
