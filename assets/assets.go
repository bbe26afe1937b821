// Package assets holds the files compiled into the binary: the wrapper script run for "sh" requests and the frontend page.
package assets

import _ "embed"

// Script is the wrapper script. Requests of type "sh" run it as `bash -c "$Script" kuber ARGS...`.
//
//go:embed script.sh
var Script string

// Index is the frontend page, served for every path that is not an API endpoint.
//
//go:embed index.html
var Index []byte
