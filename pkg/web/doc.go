// Package web serves auto-generated attribute panels to browsers.
//
// A PanelServer builds one session per WebSocket connection: the configured
// root classes are instantiated on a fresh dispatcher, a panel binds every
// viewable attribute to a control on the connected page, and an optional
// query-string mapping keeps selected attributes in the page URL. Control
// and URL traffic flows as JSON messages over the socket.
//
// # Routes
//
//   - GET /panel: the HTML shell
//   - GET /ws: the control transport
//   - GET /metrics: Prometheus metrics
//   - GET /healthz: liveness with session counts
//   - POST /upload: file-reference uploads, when a file store is configured
//
// # Resume
//
// A client reconnecting with its previous session id gets its attribute
// state back: from memory while the session is detached, from the snapshot
// store after a server restart.
package web
