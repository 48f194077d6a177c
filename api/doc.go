// Package api provides the HTTP surface of the coordinator.
//
// The api package implements:
//   - REST endpoints for game creation and tournament rooms
//   - Match-history lookup
//   - WebSocket channel routing
//
// Endpoints:
//
// Game Operations:
//   - GET /api/game/create?type=network|local|ai - Create a game session
//
// Tournament:
//   - POST /api/tournament/rooms - List rooms (authenticated)
//   - POST /api/tournament/leave - Leave a room (authenticated)
//
// History:
//   - GET /api/history/{userId} - Recent match results
//
// Channels:
//   - /invitations, /notifications, /message, /game, /localgame,
//     /aigame, /tournament/match - WebSocket upgrades
//
// Request/Response Format:
//
// All REST endpoints accept and return JSON. Tournament endpoints carry
// credentials in the request body:
//
//	{
//	  "token": "<jwt>",
//	  "sessionId": "<session id>"
//	}
//
// Error Handling:
//
// Errors are returned as JSON with appropriate HTTP status codes:
//
//	{
//	  "error": "error message"
//	}
package api
