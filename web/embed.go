package web

import "embed"

// Templates holds the server-rendered dashboard pages and partials.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static holds the stylesheet and other fixed assets.
//
//go:embed static/**/*
var Static embed.FS
