// Package web embeds the browser telemetry viewer served at "/".
package web

import "embed"

// Content holds the viewer files (index.html, app.js, styles.css).
//
//go:embed index.html app.js styles.css
var Content embed.FS
