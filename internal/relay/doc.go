// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay provides the HTTP relay between chat front ends and the
// hosted model.
//
// Endpoints:
//   - POST /api/chat   - stream a reply to {"message": "..."}
//   - GET  /v1/models  - the selectable model catalogue
//   - GET  /health     - liveness and provider configuration
//   - GET  /stats      - request counters
//
// A chat reply is a text/event-stream of "data: <json>" frames (start,
// text-start, one text-delta per upstream fragment, text-end, finish)
// terminated by "data: [DONE]". Failures before the first fragment are
// plain JSON errors; failures after it arrive as an in-band error frame.
//
// # Middleware
//
// Every request passes through panic recovery, security headers, request
// logging, CORS, per-IP rate limiting and an optional bearer-token check,
// composed with Chain.
package relay
